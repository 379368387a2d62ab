package types

import (
	"encoding/binary"

	"github.com/telcoin-network/tn-consensus-core/crypto"
)

// BatchDigest uniquely identifies a Batch's content. Identical content
// (including the execution-chain metadata below, excluding receive time)
// always produces an identical digest — §3 invariant, §8 property 8.
type BatchDigest [crypto.DigestLength]byte

func (d BatchDigest) String() string { return hexPrefix(d[:]) }

// Batch is an ordered sequence of opaque transactions sealed by a worker,
// plus the execution-chain metadata in effect when it was assembled.
type Batch struct {
	Transactions [][]byte
	ParentHash   [32]byte // execution chain parent at assembly time
	Beneficiary  [20]byte // worker's configured beneficiary address
	Timestamp    TimestampSec
	BaseFee      uint64

	// ReceivedAt is receive-time bookkeeping only; it is NOT part of the
	// digest, matching the invariant that identical content produces an
	// identical digest regardless of when/where it arrived.
	ReceivedAt TimestampSec `json:"-"`
}

// Digest computes the BatchDigest deterministically over content fields
// only (transactions and the metadata fixed at assembly time).
func (b *Batch) Digest() BatchDigest {
	h := crypto.NewHasher()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b.Transactions)))
	h.Write(lenBuf[:])
	for _, tx := range b.Transactions {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(tx)))
		h.Write(lenBuf[:])
		h.Write(tx)
	}
	h.Write(b.ParentHash[:])
	h.Write(b.Beneficiary[:])
	h.WriteUint64(uint64(b.Timestamp))
	h.WriteUint64(b.BaseFee)
	return BatchDigest(h.Sum())
}

func hexPrefix(b []byte) string {
	const hextable = "0123456789abcdef"
	n := len(b)
	if n > 4 {
		n = 4
	}
	out := make([]byte, 2+n*2)
	out[0], out[1] = '0', 'x'
	for i := 0; i < n; i++ {
		out[2+i*2] = hextable[b[i]>>4]
		out[2+i*2+1] = hextable[b[i]&0xf]
	}
	return string(out)
}
