package types

import (
	"container/list"

	"github.com/telcoin-network/tn-consensus-core/crypto"
)

// ReputationScores maps each authority to the number of sub-DAGs in the
// current scoring window whose round-2w+1 certificate supported the
// committed leader. A nil/zero-value ReputationScores is valid (genesis /
// pre-window state).
type ReputationScores struct {
	Scores      map[AuthorityIdentifier]uint64
	WindowStart SequenceNumber
	Final       bool // true once the window that produced it has closed
}

// CommittedSubDag is the causal history of one committed Bullshark
// leader, in deterministic commit order.
type CommittedSubDag struct {
	Certificates     []*Certificate
	Leader           *Certificate
	SubDagIndex      SequenceNumber
	ReputationScores ReputationScores
	commitTimestamp  TimestampSec
}

// NewCommittedSubDag builds a CommittedSubDag, resolving commit_timestamp
// to max(prev.commit_timestamp, leader.created_at) — §3 invariant
// (monotonically non-decreasing).
func NewCommittedSubDag(certs []*Certificate, leader *Certificate, index SequenceNumber, scores ReputationScores, prev *CommittedSubDag) *CommittedSubDag {
	prevTS := TimestampSec(0)
	if prev != nil {
		prevTS = prev.CommitTimestamp()
	}
	ts := leader.Header.CreatedAt
	if prevTS > ts {
		ts = prevTS
	}
	return &CommittedSubDag{
		Certificates:     certs,
		Leader:           leader,
		SubDagIndex:      index,
		ReputationScores: scores,
		commitTimestamp:  ts,
	}
}

// CommitTimestamp returns the resolved, monotonically non-decreasing
// commit timestamp for this sub-DAG.
func (s *CommittedSubDag) CommitTimestamp() TimestampSec {
	if s.commitTimestamp == 0 {
		return s.Leader.Header.CreatedAt
	}
	return s.commitTimestamp
}

// LeaderRound is the leader certificate's round (always even — the first
// round of its wave).
func (s *CommittedSubDag) LeaderRound() Round { return s.Leader.Round() }

// NumBlocks sums the payload lengths of every certificate in the sub-DAG.
func (s *CommittedSubDag) NumBlocks() int {
	n := 0
	for _, c := range s.Certificates {
		n += len(c.Header.Payload)
	}
	return n
}

// Digest hashes certificate digests in order, the leader digest, the
// index, and the commit timestamp; the reputation scores are not part of
// it. Signatures
// inside certificates are not part of the commitment — matching the
// original's note that CommittedSubDag digests only the shape of the
// commit, not its cryptographic proof material.
func (s *CommittedSubDag) Digest() CertificateDigest {
	h := crypto.NewHasher()
	for _, c := range s.Certificates {
		d := c.Digest()
		h.Write(d[:])
	}
	ld := s.Leader.Digest()
	h.Write(ld[:])
	h.WriteUint64(uint64(s.SubDagIndex))
	h.WriteUint64(uint64(s.CommitTimestamp()))
	return CertificateDigest(h.Sum())
}

// ConsensusCommit is the durable, digest-only record appended to the
// consensus log (§4.9 ConsensusLog table) — it references certificates by
// digest rather than embedding them, so the log stays small regardless of
// payload size.
type ConsensusCommit struct {
	CertificateDigests []CertificateDigest
	LeaderDigest       CertificateDigest
	LeaderRound        Round
	SubDagIndex        SequenceNumber
	ReputationScores   ReputationScores
	CommitTimestamp    TimestampSec
}

// ConsensusCommitFromSubDag builds the digest-only commit record for a
// CommittedSubDag.
func ConsensusCommitFromSubDag(s *CommittedSubDag) ConsensusCommit {
	digests := make([]CertificateDigest, len(s.Certificates))
	for i, c := range s.Certificates {
		digests[i] = c.Digest()
	}
	return ConsensusCommit{
		CertificateDigests: digests,
		LeaderDigest:       s.Leader.Digest(),
		LeaderRound:        s.LeaderRound(),
		SubDagIndex:        s.SubDagIndex,
		ReputationScores:   s.ReputationScores,
		CommitTimestamp:    s.CommitTimestamp(),
	}
}

// ConsensusOutput hydrates a CommittedSubDag with the batches it
// references, ready for execution.
type ConsensusOutput struct {
	SubDag *CommittedSubDag
	// Blocks[i][j] is the j-th batch in the payload order of Certificates[i].
	Blocks       [][]Batch
	Beneficiary  [20]byte
	BlockDigests *list.List // FIFO queue of BatchDigest, consumed during execution
}

// NextBlockDigest pops the next digest to execute, or false if exhausted.
func (o *ConsensusOutput) NextBlockDigest() (BatchDigest, bool) {
	if o.BlockDigests == nil || o.BlockDigests.Len() == 0 {
		return BatchDigest{}, false
	}
	front := o.BlockDigests.Front()
	o.BlockDigests.Remove(front)
	return front.Value.(BatchDigest), true
}

// FlattenBatches returns every batch across every certificate in payload
// order, concatenated in certificate order.
func (o *ConsensusOutput) FlattenBatches() []Batch {
	var out []Batch
	for _, bs := range o.Blocks {
		out = append(out, bs...)
	}
	return out
}
