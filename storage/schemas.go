package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/golang/snappy"

	"github.com/telcoin-network/tn-consensus-core/types"
)

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("storage: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("storage: decode: %w", err)
	}
	return nil
}

func putTyped(kv KV, key []byte, v interface{}) error {
	b, err := encode(v)
	if err != nil {
		return types.NewError(types.KindStorage, "put", err)
	}
	if err := kv.Put(key, b); err != nil {
		return types.NewError(types.KindStorage, "put", err)
	}
	return nil
}

func roundKey(r types.Round) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(r))
	return b
}

// --- Headers: HeaderDigest -> Header ---

type HeaderTable struct{ kv KV }

func NewHeaderTable(kv KV) *HeaderTable { return &HeaderTable{kv: kv} }

func (t *HeaderTable) key(d types.HeaderDigest) []byte {
	return append([]byte("hdr/"), d[:]...)
}

func (t *HeaderTable) Put(h *types.Header) error {
	return putTyped(t.kv, t.key(h.Digest()), h)
}

func (t *HeaderTable) Get(d types.HeaderDigest) (*types.Header, error) {
	raw, err := t.kv.Get(t.key(d))
	if err != nil {
		return nil, err
	}
	var h types.Header
	if err := decode(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// --- Certificates: CertificateDigest -> Certificate ---

type CertificateTable struct{ kv KV }

func NewCertificateTable(kv KV) *CertificateTable { return &CertificateTable{kv: kv} }

func (t *CertificateTable) key(d types.CertificateDigest) []byte {
	return append([]byte("cert/"), d[:]...)
}

func (t *CertificateTable) Put(c *types.Certificate) error {
	return putTyped(t.kv, t.key(c.Digest()), c)
}

func (t *CertificateTable) Get(d types.CertificateDigest) (*types.Certificate, error) {
	raw, err := t.kv.Get(t.key(d))
	if err != nil {
		return nil, err
	}
	var c types.Certificate
	if err := decode(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *CertificateTable) Has(d types.CertificateDigest) bool {
	_, err := t.kv.Get(t.key(d))
	return err == nil
}

func (t *CertificateTable) Delete(d types.CertificateDigest) error {
	return t.kv.Delete(t.key(d))
}

// --- CertificateByRound: (Round, AuthorityId) -> CertificateDigest ---
// Key layout keeps the 8-byte big-endian round first so range scans by
// round work lexicographically — §4.9 "range scans by round".

type CertificateByRoundTable struct{ kv KV }

func NewCertificateByRoundTable(kv KV) *CertificateByRoundTable {
	return &CertificateByRoundTable{kv: kv}
}

func (t *CertificateByRoundTable) key(r types.Round, a types.AuthorityIdentifier) []byte {
	k := append([]byte("cbr/"), roundKey(r)...)
	return binary.BigEndian.AppendUint16(k, uint16(a))
}

func (t *CertificateByRoundTable) prefix(r types.Round) []byte {
	return append([]byte("cbr/"), roundKey(r)...)
}

func (t *CertificateByRoundTable) Put(r types.Round, a types.AuthorityIdentifier, d types.CertificateDigest) error {
	return t.kv.Put(t.key(r, a), d[:])
}

// Range returns every (authority, digest) recorded for round r.
func (t *CertificateByRoundTable) Range(r types.Round) (map[types.AuthorityIdentifier]types.CertificateDigest, error) {
	start := t.prefix(r)
	end := make([]byte, len(start))
	copy(end, start)
	end = incrementBytes(end)
	it, err := t.kv.NewIterator(start, end)
	if err != nil {
		return nil, err
	}
	defer it.Release()
	out := make(map[types.AuthorityIdentifier]types.CertificateDigest)
	for it.Next() {
		key := it.Key()
		a := types.AuthorityIdentifier(binary.BigEndian.Uint16(key[len(key)-2:]))
		var d types.CertificateDigest
		copy(d[:], it.Value())
		out[a] = d
	}
	return out, it.Error()
}

func (t *CertificateByRoundTable) Delete(r types.Round, a types.AuthorityIdentifier) error {
	return t.kv.Delete(t.key(r, a))
}

func incrementBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

// --- CertificateByOrigin: (AuthorityId, Round) -> CertificateDigest ---
// Used for per-authority recovery scans.

type CertificateByOriginTable struct{ kv KV }

func NewCertificateByOriginTable(kv KV) *CertificateByOriginTable {
	return &CertificateByOriginTable{kv: kv}
}

func (t *CertificateByOriginTable) key(a types.AuthorityIdentifier, r types.Round) []byte {
	k := binary.BigEndian.AppendUint16([]byte("cbo/"), uint16(a))
	return append(k, roundKey(r)...)
}

func (t *CertificateByOriginTable) Put(a types.AuthorityIdentifier, r types.Round, d types.CertificateDigest) error {
	return t.kv.Put(t.key(a, r), d[:])
}

func (t *CertificateByOriginTable) RangeFrom(a types.AuthorityIdentifier, fromRound types.Round) ([]types.CertificateDigest, error) {
	start := t.key(a, fromRound)
	prefix := binary.BigEndian.AppendUint16([]byte("cbo/"), uint16(a))
	end := incrementBytes(prefix)
	it, err := t.kv.NewIterator(start, end)
	if err != nil {
		return nil, err
	}
	defer it.Release()
	var out []types.CertificateDigest
	for it.Next() {
		var d types.CertificateDigest
		copy(d[:], it.Value())
		out = append(out, d)
	}
	return out, it.Error()
}

// --- Payload: (BatchDigest, WorkerId) -> presence marker ---

type PayloadTable struct{ kv KV }

func NewPayloadTable(kv KV) *PayloadTable { return &PayloadTable{kv: kv} }

func (t *PayloadTable) key(d types.BatchDigest, w types.WorkerID) []byte {
	k := append([]byte("pl/"), d[:]...)
	return binary.BigEndian.AppendUint16(k, uint16(w))
}

func (t *PayloadTable) MarkPresent(d types.BatchDigest, w types.WorkerID) error {
	return t.kv.Put(t.key(d, w), []byte{1})
}

func (t *PayloadTable) IsPresent(d types.BatchDigest, w types.WorkerID) bool {
	_, err := t.kv.Get(t.key(d, w))
	return err == nil
}

// --- Votes: AuthorityId (voter target, i.e. header origin) -> VoteInfo ---
// This is the equivocation guard described in §3/§4.5: at most one vote
// per (voter, author, round, epoch). We key by (voter, origin) so a single
// voter's record for each header-author is independently tracked.

type VoteTable struct{ kv KV }

func NewVoteTable(kv KV) *VoteTable { return &VoteTable{kv: kv} }

func (t *VoteTable) key(voter, origin types.AuthorityIdentifier) []byte {
	k := binary.BigEndian.AppendUint16([]byte("vote/"), uint16(voter))
	return binary.BigEndian.AppendUint16(k, uint16(origin))
}

func (t *VoteTable) Get(voter, origin types.AuthorityIdentifier) (*types.VoteInfo, error) {
	raw, err := t.kv.Get(t.key(voter, origin))
	if err != nil {
		return nil, err
	}
	var info types.VoteInfo
	if err := decode(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (t *VoteTable) Put(voter types.AuthorityIdentifier, info types.VoteInfo) error {
	return putTyped(t.kv, t.key(voter, info.HeaderOrigin), info)
}

// --- LastProposed: single slot holding our most recently proposed header ---

type LastProposedTable struct{ kv KV }

func NewLastProposedTable(kv KV) *LastProposedTable { return &LastProposedTable{kv: kv} }

var lastProposedKey = []byte("last_proposed")

func (t *LastProposedTable) Put(h *types.Header) error {
	return putTyped(t.kv, lastProposedKey, h)
}

func (t *LastProposedTable) Get() (*types.Header, error) {
	raw, err := t.kv.Get(lastProposedKey)
	if err != nil {
		return nil, err
	}
	var h types.Header
	if err := decode(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// --- ConsensusLog: sub_dag_index -> ConsensusCommit (digests only) ---

type ConsensusLogTable struct{ kv KV }

func NewConsensusLogTable(kv KV) *ConsensusLogTable { return &ConsensusLogTable{kv: kv} }

func (t *ConsensusLogTable) key(idx types.SequenceNumber) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(idx))
	return append([]byte("clog/"), b...)
}

func (t *ConsensusLogTable) Append(commit types.ConsensusCommit) error {
	return putTyped(t.kv, t.key(commit.SubDagIndex), commit)
}

func (t *ConsensusLogTable) Get(idx types.SequenceNumber) (*types.ConsensusCommit, error) {
	raw, err := t.kv.Get(t.key(idx))
	if err != nil {
		return nil, err
	}
	var c types.ConsensusCommit
	if err := decode(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// RangeFrom returns every commit with sub_dag_index > after, ascending —
// used by the executor bridge's crash recovery (§4.8).
func (t *ConsensusLogTable) RangeFrom(after types.SequenceNumber) ([]types.ConsensusCommit, error) {
	start := t.key(after + 1)
	it, err := t.kv.NewIterator(start, nil)
	if err != nil {
		return nil, err
	}
	defer it.Release()
	var out []types.ConsensusCommit
	for it.Next() {
		var c types.ConsensusCommit
		if err := decode(it.Value(), &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, it.Error()
}

// --- Batches: BatchDigest -> Batch (worker-local) ---

type BatchTable struct{ kv KV }

func NewBatchTable(kv KV) *BatchTable { return &BatchTable{kv: kv} }

func (t *BatchTable) key(d types.BatchDigest) []byte {
	return append([]byte("batch/"), d[:]...)
}

// Put snappy-compresses the gob encoding before writing: batch payloads
// are the largest values this store holds, and transaction bytes compress
// well, matching the teacher's use of snappy for large on-disk blobs.
func (t *BatchTable) Put(b *types.Batch) error {
	raw, err := encode(b)
	if err != nil {
		return types.NewError(types.KindStorage, "put", err)
	}
	if err := t.kv.Put(t.key(b.Digest()), snappy.Encode(nil, raw)); err != nil {
		return types.NewError(types.KindStorage, "put", err)
	}
	return nil
}

func (t *BatchTable) Get(d types.BatchDigest) (*types.Batch, error) {
	compressed, err := t.kv.Get(t.key(d))
	if err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress batch: %w", err)
	}
	var b types.Batch
	if err := decode(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *BatchTable) Has(d types.BatchDigest) bool {
	_, err := t.kv.Get(t.key(d))
	return err == nil
}
