// Package crypto provides the consensus-core's cryptographic primitives:
// BLS12-381 signing/aggregation for consensus messages (headers, votes,
// certificates), Ed25519 identity keys for transport authentication, and
// the Keccak-256 digest and intent-tagging helpers every digest in the
// types package is built from.
package crypto

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/sha3"
)

// DigestLength is the size in bytes of every digest in this system
// (HeaderDigest, CertificateDigest, BatchDigest, VoteDigest, ...).
const DigestLength = 32

// Digest is a 32-byte Keccak-256 output.
type Digest [DigestLength]byte

// Sum256 returns the Keccak-256 digest of the concatenation of data.
func Sum256(data ...[]byte) Digest {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Digest
	h.Sum(out[:0])
	return out
}

// IncrementalHash accumulates bytes field-by-field and finalizes into a
// Digest, for types whose digest is built from several ordered fields
// (headers, sub-dags) rather than one contiguous buffer.
type IncrementalHash struct {
	h hash.Hash
}

// NewHasher returns a fresh incremental hasher.
func NewHasher() *IncrementalHash {
	return &IncrementalHash{h: sha3.NewLegacyKeccak256()}
}

func (ih *IncrementalHash) Write(b []byte) *IncrementalHash {
	ih.h.Write(b)
	return ih
}

func (ih *IncrementalHash) WriteUint64(v uint64) *IncrementalHash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	ih.h.Write(b[:])
	return ih
}

func (ih *IncrementalHash) Sum() Digest {
	var out Digest
	ih.h.Sum(out[:0])
	return out
}
