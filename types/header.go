package types

import (
	"bytes"
	"sort"

	"github.com/telcoin-network/tn-consensus-core/crypto"
)

// HeaderDigest identifies a Header's content.
type HeaderDigest [crypto.DigestLength]byte

func (d HeaderDigest) String() string { return hexPrefix(d[:]) }

// PayloadEntry is one (BatchDigest -> worker_id, batch_timestamp) mapping
// in a header's payload. Payload is insertion-ordered: the order batches
// were drained from the proposer's digest queue is preserved into the
// digest and into every downstream consumer that walks the payload.
type PayloadEntry struct {
	Digest    BatchDigest
	WorkerID  WorkerID
	Timestamp TimestampSec
}

// Header is a proposer's per-round claim: the batches it vouches for and
// the round−1 certificates it builds on.
type Header struct {
	Author    AuthorityIdentifier
	Round     Round
	Epoch     Epoch
	CreatedAt TimestampSec
	Payload   []PayloadEntry      // insertion order, no duplicate digests
	Parents   []CertificateDigest // set of round−1 certificate digests (round 0 for genesis)
	Extra     []byte

	// Signature is the author's BLS signature over the intent-tagged
	// HeaderDigest, produced at construction time so peers can check
	// authorship before investing in a full RequestVote round-trip.
	Signature *crypto.BLSSignature
}

// sortedParents returns a copy of h.Parents in canonical ascending byte
// order, since Parents is logically a set but the digest computation (and
// any wire encoding) needs one fixed order every honest node agrees on.
func (h *Header) sortedParents() []CertificateDigest {
	out := make([]CertificateDigest, len(h.Parents))
	copy(out, h.Parents)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// HasPayload reports whether digest is present in the header's payload.
func (h *Header) HasPayload(digest BatchDigest) bool {
	for _, e := range h.Payload {
		if e.Digest == digest {
			return true
		}
	}
	return false
}

// PayloadSet returns the payload digests as a set for membership checks.
func (h *Header) PayloadSet() map[BatchDigest]PayloadEntry {
	out := make(map[BatchDigest]PayloadEntry, len(h.Payload))
	for _, e := range h.Payload {
		out[e.Digest] = e
	}
	return out
}

// Digest hashes author, round, epoch, created_at, payload keys in
// insertion order, and parents in canonical sorted order — §3.
func (h *Header) Digest() HeaderDigest {
	hs := crypto.NewHasher()
	hs.WriteUint64(uint64(h.Author))
	hs.WriteUint64(uint64(h.Round))
	hs.WriteUint64(uint64(h.Epoch))
	hs.WriteUint64(uint64(h.CreatedAt))
	for _, e := range h.Payload {
		hs.Write(e.Digest[:])
	}
	for _, p := range h.sortedParents() {
		hs.Write(p[:])
	}
	hs.Write(h.Extra)
	return HeaderDigest(hs.Sum())
}

// SigningMessage returns the intent-tagged message an author signs (and a
// voter verifies) for this header.
func (h *Header) SigningMessage() []byte {
	return crypto.ToIntentMessage(crypto.IntentHeader, crypto.Digest(h.Digest()))
}

// IsGenesisRound reports whether this header's round is the first
// proposing round, whose parents are the deterministic genesis
// certificates rather than real round−1 certificates.
func (h *Header) IsGenesisRound() bool {
	return h.Round == GenesisRound+1
}
