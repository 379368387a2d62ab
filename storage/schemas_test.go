package storage

import (
	"testing"

	"github.com/telcoin-network/tn-consensus-core/bitmap"
	"github.com/telcoin-network/tn-consensus-core/types"
)

func TestHeaderTablePutGet(t *testing.T) {
	kv := NewMemKV()
	table := NewHeaderTable(kv)
	h := &types.Header{Author: 1, Round: 4, Epoch: 0, CreatedAt: 100}
	if err := table.Put(h); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := table.Get(h.Digest())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Round != h.Round || got.Author != h.Author {
		t.Fatalf("round-tripped header mismatch: %+v", got)
	}
}

func TestCertificateTableHasAndDelete(t *testing.T) {
	kv := NewMemKV()
	table := NewCertificateTable(kv)
	cert := &types.Certificate{Header: types.Header{Author: 2, Round: 6}, Signers: bitmap.NewBitmap(4)}
	if err := table.Put(cert); err != nil {
		t.Fatalf("put: %v", err)
	}
	d := cert.Digest()
	if !table.Has(d) {
		t.Fatalf("expected Has to report true after Put")
	}
	if err := table.Delete(d); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if table.Has(d) {
		t.Fatalf("expected Has to report false after Delete")
	}
}

func TestCertificateByRoundRange(t *testing.T) {
	kv := NewMemKV()
	table := NewCertificateByRoundTable(kv)
	var digests []types.CertificateDigest
	for i := 0; i < 3; i++ {
		var d types.CertificateDigest
		d[0] = byte(i + 1)
		digests = append(digests, d)
		if err := table.Put(5, types.AuthorityIdentifier(i), d); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	got, err := table.Range(5)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 entries, got %d", len(got))
	}
	for i, d := range digests {
		if got[types.AuthorityIdentifier(i)] != d {
			t.Fatalf("authority %d: want %v got %v", i, d, got[types.AuthorityIdentifier(i)])
		}
	}
}

func TestVoteTableEquivocationGuard(t *testing.T) {
	kv := NewMemKV()
	table := NewVoteTable(kv)
	voter, origin := types.AuthorityIdentifier(0), types.AuthorityIdentifier(1)
	if _, err := table.Get(voter, origin); err == nil {
		t.Fatalf("expected ErrNotFound before any vote recorded")
	}
	info := types.VoteInfo{Epoch: 0, Round: 3, HeaderOrigin: origin}
	if err := table.Put(voter, info); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := table.Get(voter, origin)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Round != 3 {
		t.Fatalf("want round 3, got %d", got.Round)
	}
}

func TestConsensusLogAppendRangeFrom(t *testing.T) {
	kv := NewMemKV()
	table := NewConsensusLogTable(kv)
	for i := types.SequenceNumber(0); i < 5; i++ {
		if err := table.Append(types.ConsensusCommit{SubDagIndex: i, LeaderRound: types.Round(i * 2)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	commits, err := table.RangeFrom(2)
	if err != nil {
		t.Fatalf("range from: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("want 2 commits after index 2, got %d", len(commits))
	}
	if commits[0].SubDagIndex != 3 || commits[1].SubDagIndex != 4 {
		t.Fatalf("unexpected commits: %+v", commits)
	}
}

func TestBatchTableCompressedRoundTrip(t *testing.T) {
	kv := NewMemKV()
	table := NewBatchTable(kv)
	batch := &types.Batch{Transactions: [][]byte{[]byte("tx-a"), []byte("tx-b")}, Timestamp: 42}
	if err := table.Put(batch); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := table.Get(batch.Digest())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Transactions) != 2 || string(got.Transactions[0]) != "tx-a" {
		t.Fatalf("unexpected round-tripped batch: %+v", got)
	}
	if !table.Has(batch.Digest()) {
		t.Fatalf("expected Has to report true")
	}
}

func TestLastProposedTablePutGet(t *testing.T) {
	kv := NewMemKV()
	table := NewLastProposedTable(kv)
	h := &types.Header{Author: 0, Round: 9}
	if err := table.Put(h); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := table.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Round != 9 {
		t.Fatalf("want round 9, got %d", got.Round)
	}
}
