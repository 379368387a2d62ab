package types

import (
	"github.com/telcoin-network/tn-consensus-core/bitmap"
	"github.com/telcoin-network/tn-consensus-core/crypto"
)

// CertificateDigest hashes the header digest plus the signer bitmap — §3.
type CertificateDigest [crypto.DigestLength]byte

func (d CertificateDigest) String() string { return hexPrefix(d[:]) }

// Certificate is a header plus an aggregated BLS signature from ≥2f+1
// stake of the committee, recorded in Signers. Soundness (§8 property 2)
// is checked by the committee/dag layers, which know the committee's
// stake table; Certificate itself only carries the data and computes its
// own digest.
type Certificate struct {
	Header              Header
	AggregatedSignature *crypto.BLSSignature
	Signers             *bitmap.Bitmap // bit i set iff committee authority i signed
}

// Digest hashes the header digest and the signer bitmap's canonical
// encoding. A nil Signers is hashed as an empty bitmap.
func (c *Certificate) Digest() CertificateDigest {
	h := crypto.NewHasher()
	hd := c.Header.Digest()
	h.Write(hd[:])
	signers := c.Signers
	if signers == nil {
		signers = bitmap.NewBitmap(0)
	}
	h.Write(signers.Encode())
	return CertificateDigest(h.Sum())
}

// Round is the header's round.
func (c *Certificate) Round() Round { return c.Header.Round }

// Author is the header's author (the certificate's "origin").
func (c *Certificate) Author() AuthorityIdentifier { return c.Header.Author }

// Parents returns the header's parent certificate digests.
func (c *Certificate) Parents() []CertificateDigest { return c.Header.Parents }

// GenesisCertificate returns the deterministic round-0 certificate for
// authority id: an empty header with no parents, unsigned (genesis
// certificates are axiomatically valid, not verified against stake) —
// every honest node constructs the identical value, so it never needs to
// travel the network.
func GenesisCertificate(id AuthorityIdentifier, epoch Epoch) *Certificate {
	return &Certificate{
		Header: Header{
			Author: id,
			Round:  GenesisRound,
			Epoch:  epoch,
		},
		Signers: bitmap.NewBitmap(0),
	}
}
