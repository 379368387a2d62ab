// Package bullshark implements the total-ordering commit rule over the
// DAG: wave-based leader election, the support/commit condition, causal
// history extraction, and reputation-driven leader schedule swaps (§4.7).
package bullshark

import (
	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/types"
)

// LeaderSwapTable maps an authority that scored in the bottom
// bad_nodes_stake_threshold fraction of a reputation window onto a
// stand-in from the top-scoring set, so its leader slots are skipped
// without changing the deterministic round -> raw-leader mapping itself
// (§4.7 "derive a LeaderSwapTable").
type LeaderSwapTable struct {
	swaps map[types.AuthorityIdentifier]types.AuthorityIdentifier
}

// EmptyLeaderSwapTable is the identity table used before any reputation
// window has closed.
func EmptyLeaderSwapTable() LeaderSwapTable {
	return LeaderSwapTable{swaps: map[types.AuthorityIdentifier]types.AuthorityIdentifier{}}
}

// Apply returns the effective leader for a raw committee pick, applying
// any swap in effect.
func (t LeaderSwapTable) Apply(raw types.AuthorityIdentifier) types.AuthorityIdentifier {
	if stand, ok := t.swaps[raw]; ok {
		return stand
	}
	return raw
}

// LeaderSchedule resolves the deterministic leader for a wave's even
// round, composing the committee's raw hashed pick with whatever
// LeaderSwapTable is in effect.
type LeaderSchedule struct {
	comm  *committee.Committee
	table LeaderSwapTable
}

// NewLeaderSchedule returns a schedule with no swaps applied, matching
// the state before the first reputation window closes.
func NewLeaderSchedule(comm *committee.Committee) *LeaderSchedule {
	return &LeaderSchedule{comm: comm, table: EmptyLeaderSwapTable()}
}

// Leader returns the authority that must author round r's leader
// certificate.
func (s *LeaderSchedule) Leader(r types.Round) types.AuthorityIdentifier {
	return s.table.Apply(s.comm.Leader(r))
}

// SetTable installs a newly derived LeaderSwapTable, effective for every
// subsequent Leader call until the next window boundary.
func (s *LeaderSchedule) SetTable(t LeaderSwapTable) {
	s.table = t
}

// ReputationTracker maintains the sliding window of the most recent
// NUM_SUB_DAGS_PER_SCHEDULE committed sub-DAGs' support scores and derives
// a new LeaderSwapTable at each window boundary (§4.7).
type ReputationTracker struct {
	comm       *committee.Committee
	windowSize uint64
	badStake   float64

	// scores accumulates +1 per authority per sub-DAG whose round-2w+1
	// certificate supported the committed leader, reset at each boundary.
	scores map[types.AuthorityIdentifier]uint64
	// windowStart is the sub_dag_index the current accumulation began at.
	windowStart types.SequenceNumber
}

// NewReputationTracker returns a tracker for the given window size and
// swap-out fraction.
func NewReputationTracker(comm *committee.Committee, windowSize uint64, badStake float64) *ReputationTracker {
	return &ReputationTracker{
		comm:       comm,
		windowSize: windowSize,
		badStake:   badStake,
		scores:     make(map[types.AuthorityIdentifier]uint64),
	}
}

// RecordSupport increments the score of every authority in supporters for
// the sub-DAG about to be committed.
func (r *ReputationTracker) RecordSupport(supporters []types.AuthorityIdentifier) {
	for _, a := range supporters {
		r.scores[a]++
	}
}

// MaybeCloseWindow reports whether the window ending at the sub-DAG just
// committed (index) has reached windowSize accumulated commits and, if
// so, derives and returns the new LeaderSwapTable, resetting the
// accumulator for the next window.
func (r *ReputationTracker) MaybeCloseWindow(index types.SequenceNumber) (LeaderSwapTable, types.ReputationScores, bool) {
	if r.windowSize == 0 || uint64(index+1) < r.windowSize || uint64(index+1)%r.windowSize != 0 {
		return LeaderSwapTable{}, types.ReputationScores{}, false
	}
	snapshot := make(map[types.AuthorityIdentifier]uint64, len(r.scores))
	for a, s := range r.scores {
		snapshot[a] = s
	}
	table := r.deriveSwapTable(snapshot)
	result := types.ReputationScores{
		Scores:      snapshot,
		WindowStart: r.windowStart,
		Final:       true,
	}
	r.scores = make(map[types.AuthorityIdentifier]uint64)
	r.windowStart = index + 1
	return table, result, true
}

// deriveSwapTable swaps the lowest-scoring authorities whose combined
// stake is <= badStake fraction of total stake out of leader slots, in
// favor of the highest-scoring authorities not already swapped in.
func (r *ReputationTracker) deriveSwapTable(scores map[types.AuthorityIdentifier]uint64) LeaderSwapTable {
	authorities := r.comm.Authorities()
	ranked := make([]types.AuthorityIdentifier, len(authorities))
	for i, a := range authorities {
		ranked[i] = a.ID
	}
	// Sort ascending by score (authorities absent from scores, i.e. never
	// observed supporting, rank lowest).
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && scores[ranked[j]] < scores[ranked[j-1]]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	threshold := types.Stake(float64(r.comm.TotalStake()) * r.badStake)
	var badStakeAccum types.Stake
	badCount := 0
	for _, id := range ranked {
		a, _ := r.comm.Authority(id)
		if badStakeAccum+a.Stake > threshold {
			break
		}
		badStakeAccum += a.Stake
		badCount++
	}

	table := EmptyLeaderSwapTable()
	goodIdx := len(ranked) - 1
	for i := 0; i < badCount; i++ {
		bad := ranked[i]
		if goodIdx <= i {
			break
		}
		good := ranked[goodIdx]
		table.swaps[bad] = good
		goodIdx--
	}
	return table
}
