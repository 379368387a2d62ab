package bullshark

import (
	"sort"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/dag"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// Bullshark consumes accepted certificates from a single FIFO channel and
// emits CommittedSubDags in strict, monotonically increasing sub_dag_index
// order (§4.7, §5 "Bullshark consumes... its output channel preserves
// commit order").
type Bullshark struct {
	comm     *committee.Committee
	d        *dag.Dag
	schedule *LeaderSchedule
	rep      *ReputationTracker
	gcDepth  types.Round

	log *xlog.Logger

	// committed marks every certificate digest already swept into some
	// emitted CommittedSubDag; causal-history extraction stops at these.
	committed map[types.CertificateDigest]struct{}

	// supported holds leader certificates that have reached direct f+1
	// support at their voting round but have not yet been committed,
	// because an earlier, lower wave is still outstanding (§4.7 "Apply in
	// increasing order of w'").
	supported map[types.Round]*types.Certificate

	lastCommittedLeaderRound types.Round
	nextSubDagIndex          types.SequenceNumber
	prevSubDag               *types.CommittedSubDag
}

// New constructs a Bullshark instance over the given DAG and committee.
func New(comm *committee.Committee, d *dag.Dag, gcDepth types.Round, numSubDagsPerSchedule uint64, badNodesStakeThreshold float64) *Bullshark {
	return &Bullshark{
		comm:      comm,
		d:         d,
		schedule:  NewLeaderSchedule(comm),
		rep:       NewReputationTracker(comm, numSubDagsPerSchedule, badNodesStakeThreshold),
		gcDepth:   gcDepth,
		log:       xlog.New("bullshark"),
		committed: make(map[types.CertificateDigest]struct{}),
		supported: make(map[types.Round]*types.Certificate),
	}
}

// Run drains the accepted-certificate channel until ctx is cancelled,
// tallying accepted stake per round and calling OnRoundComplete once per
// round, when that round's certificates first reach quorum stake, then
// broadcasting every produced CommittedSubDag on bus.CommittedSubDags.
func (b *Bullshark) Run(bus *eventbus.ConsensusBus) {
	roundStake := make(map[types.Round]types.Stake)
	evaluated := make(map[types.Round]struct{})
	for {
		select {
		case <-bus.Context().Done():
			return
		case cert, ok := <-bus.AcceptedCertificates:
			if !ok {
				return
			}
			r := cert.Round()
			if _, done := evaluated[r]; done {
				continue
			}
			if a, ok := b.comm.Authority(cert.Author()); ok {
				roundStake[r] += a.Stake
			}
			if roundStake[r] >= b.comm.QuorumThreshold() {
				evaluated[r] = struct{}{}
				delete(roundStake, r)
				for _, sub := range b.OnRoundComplete(r) {
					bus.CommittedSubDags.Send(bus.Context(), sub)
				}
			}
		}
	}
}

// OnRoundComplete is invoked once a round's quorum of certificates has
// been accepted into the DAG. It evaluates the support/commit condition
// for the wave whose voting round is r and, if satisfied, commits every
// outstanding leader from the lowest uncommitted wave forward, emitting
// one CommittedSubDag per committed leader in ascending round order
// (§4.7).
func (b *Bullshark) OnRoundComplete(r types.Round) []*types.CommittedSubDag {
	if r%2 != 1 {
		// Support is only evaluated at odd (voting) rounds; even rounds
		// only ever introduce a new candidate leader, not a commit
		// decision.
		return nil
	}
	leaderRound := r - 1
	leaderID := b.schedule.Leader(leaderRound)
	leaderCert, ok := b.d.CertificateAt(leaderRound, leaderID)
	if !ok {
		// Leader offline for this wave; it may still be committed later,
		// indirectly, via causal reachability from a future leader.
		return nil
	}
	if _, already := b.committed[leaderCert.Digest()]; already {
		return nil
	}

	voters := b.d.RoundCertificates(r)
	var supporters []types.AuthorityIdentifier
	var supportStake types.Stake
	leaderDigest := leaderCert.Digest()
	for author, vote := range voters {
		for _, parent := range vote.Parents() {
			if parent == leaderDigest {
				supporters = append(supporters, author)
				if a, ok := b.comm.Authority(author); ok {
					supportStake += a.Stake
				}
				break
			}
		}
	}
	if supportStake < b.comm.ValidityThreshold() {
		return nil
	}
	b.supported[leaderRound] = leaderCert
	b.rep.RecordSupport(supporters)
	return b.commitCascade()
}

// commitCascade walks every wave from the lowest uncommitted leader round
// forward, committing each leader that is either directly supported or
// causally reachable from a higher, already-supported leader, stopping at
// the first gap (§4.7 "Apply in increasing order of w'").
func (b *Bullshark) commitCascade() []*types.CommittedSubDag {
	var emitted []*types.CommittedSubDag
	for {
		candidateRound := b.lastCommittedLeaderRound + 2
		if b.lastCommittedLeaderRound == 0 {
			candidateRound = 2
		}
		leaderID := b.schedule.Leader(candidateRound)
		cert, hasCert := b.d.CertificateAt(candidateRound, leaderID)

		supportedCert, directlySupported := b.supported[candidateRound]
		var reachable bool
		var viaCert *types.Certificate
		if hasCert {
			if directlySupported {
				reachable = true
				viaCert = supportedCert
			} else if hi := b.highestSupportedAbove(candidateRound); hi != nil {
				if b.isAncestor(cert, hi) {
					reachable = true
					viaCert = hi
				}
			}
		}
		if !reachable {
			// Leader offline and unreachable, or not yet supported at
			// all: the cascade cannot proceed past this wave yet.
			if !hasCert {
				// No certificate exists for this wave's leader slot. It
				// can still be skipped over (its causal history, if any
				// of its peers produced certs, is swept in by a later
				// leader) provided a later leader is already supported
				// and reaches past it; otherwise stop.
				if hi := b.highestSupportedAbove(candidateRound); hi != nil {
					b.lastCommittedLeaderRound = candidateRound
					continue
				}
			}
			return emitted
		}
		sub := b.emitForLeader(cert)
		delete(b.supported, candidateRound)
		b.lastCommittedLeaderRound = candidateRound
		emitted = append(emitted, sub)
		_ = viaCert
	}
}

// highestSupportedAbove returns the highest-round supported-but-uncommitted
// leader certificate strictly above round, or nil if none.
func (b *Bullshark) highestSupportedAbove(round types.Round) *types.Certificate {
	var best *types.Certificate
	var bestRound types.Round
	for r, c := range b.supported {
		if r > round && (best == nil || r > bestRound) {
			best = c
			bestRound = r
		}
	}
	return best
}

// isAncestor reports whether target is reachable from start by following
// parent links.
func (b *Bullshark) isAncestor(target, start *types.Certificate) bool {
	targetDigest := target.Digest()
	visited := map[types.CertificateDigest]struct{}{}
	stack := []*types.Certificate{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		d := cur.Digest()
		if d == targetDigest {
			return true
		}
		if _, ok := visited[d]; ok {
			continue
		}
		visited[d] = struct{}{}
		if cur.Round() <= target.Round() {
			continue
		}
		for _, parent := range cur.Parents() {
			if _, ok := b.committed[parent]; ok {
				continue
			}
			if pc, ok := b.d.Get(parent); ok {
				stack = append(stack, pc)
			}
		}
	}
	return false
}

// emitForLeader computes leader's causal history (every accepted
// ancestor not already committed and not below the GC horizon), orders it
// deterministically, marks it committed, and builds the CommittedSubDag
// (§4.7 "Ordering").
func (b *Bullshark) emitForLeader(leader *types.Certificate) *types.CommittedSubDag {
	var history []*types.Certificate
	visited := map[types.CertificateDigest]struct{}{}
	gcRound := b.d.GCRound()

	var walk func(c *types.Certificate)
	walk = func(c *types.Certificate) {
		d := c.Digest()
		if _, ok := visited[d]; ok {
			return
		}
		if _, ok := b.committed[d]; ok {
			return
		}
		if c.Round() <= gcRound && c.Round() != types.GenesisRound {
			return
		}
		visited[d] = struct{}{}
		history = append(history, c)
		for _, parent := range c.Parents() {
			if pc, ok := b.d.Get(parent); ok {
				walk(pc)
			}
		}
	}
	walk(leader)

	sort.Slice(history, func(i, j int) bool {
		ci, cj := history[i], history[j]
		if ci.Round() != cj.Round() {
			return ci.Round() < cj.Round()
		}
		return ci.Author() < cj.Author()
	})

	// The leader must appear last, per the ordering invariant.
	ordered := make([]*types.Certificate, 0, len(history))
	leaderDigest := leader.Digest()
	for _, c := range history {
		if c.Digest() != leaderDigest {
			ordered = append(ordered, c)
		}
	}
	ordered = append(ordered, leader)

	for _, c := range ordered {
		b.committed[c.Digest()] = struct{}{}
	}

	index := b.nextSubDagIndex
	b.nextSubDagIndex++

	var scores types.ReputationScores
	if table, snapshot, closed := b.rep.MaybeCloseWindow(index); closed {
		b.schedule.SetTable(table)
		scores = snapshot
	}

	sub := types.NewCommittedSubDag(ordered, leader, index, scores, b.prevSubDag)
	b.prevSubDag = sub

	newGC := leader.Round()
	if newGC > b.gcDepth {
		b.d.GarbageCollect(newGC - b.gcDepth)
	}

	b.log.Info("committed sub-dag", "sub_dag_index", index, "leader_round", leader.Round(), "certs", len(ordered))
	return sub
}
