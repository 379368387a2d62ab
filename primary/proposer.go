// Package primary implements one authority's primary: the proposer and
// certifier that turn batch digests into certificates, the voter that
// serves RequestVote, and the synchronizer/acceptor that admits peer
// certificates into the DAG (§4.3-§4.6).
package primary

import (
	"context"
	"sync"
	"time"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// LeaderElector resolves the deterministic leader for a round. Both
// *committee.Committee (raw hashed pick) and *bullshark.LeaderSchedule
// (reputation-adjusted) satisfy this, so the proposer does not need to
// import bullshark directly.
type LeaderElector interface {
	Leader(r types.Round) types.AuthorityIdentifier
}

// ExecutionHeaderBuilder requests the execution layer seal the header
// material for a proposed round (§6 "BuildHeader").
type ExecutionHeaderBuilder interface {
	BuildHeader(ctx context.Context, round types.Round, epoch types.Epoch, createdAt types.TimestampSec, payload []types.PayloadEntry, parents []types.CertificateDigest) (extra []byte, err error)
}

// proposalRecord tracks one round awaiting commit feedback (§4.3 "map
// round -> (header, included_digests)").
type proposalRecord struct {
	header           *types.Header
	includedDigests  []types.BatchDigest
}

// Proposer decides when to propose a round's header and what to put in
// it (§4.3).
type Proposer struct {
	mu sync.Mutex

	self    types.AuthorityIdentifier
	epoch   types.Epoch
	comm    *committee.Committee
	leaders LeaderElector
	signer  *crypto.BLSPrivateKey
	builder ExecutionHeaderBuilder
	table   *storage.LastProposedTable

	minHeaderDelay              time.Duration
	maxHeaderDelay              time.Duration
	headerNumBatchesThreshold   int
	maxHeaderNumOfBatches       int

	round            types.Round
	parents          map[types.AuthorityIdentifier]*types.Certificate
	digestQueue      []types.PayloadEntry
	lastProposed     *types.Header
	pendingCommit    map[types.Round]proposalRecord
	lastLeaderCert   *types.Certificate // last wave's leader certificate, if known, for the odd-round gate

	windowStart   time.Time
	forceAdvance  bool

	log *xlog.Logger
}

// NewProposer constructs a Proposer seeded at round 0 with no parents
// (genesis parents are supplied by the caller via SeedGenesisParents).
func NewProposer(self types.AuthorityIdentifier, epoch types.Epoch, comm *committee.Committee, leaders LeaderElector, signer *crypto.BLSPrivateKey, builder ExecutionHeaderBuilder, table *storage.LastProposedTable, minDelay, maxDelay time.Duration, numBatchesThreshold, maxNumBatches int) *Proposer {
	p := &Proposer{
		self: self, epoch: epoch, comm: comm, leaders: leaders, signer: signer, builder: builder, table: table,
		minHeaderDelay: minDelay, maxHeaderDelay: maxDelay,
		headerNumBatchesThreshold: numBatchesThreshold, maxHeaderNumOfBatches: maxNumBatches,
		parents: make(map[types.AuthorityIdentifier]*types.Certificate),
		pendingCommit: make(map[types.Round]proposalRecord),
		log: xlog.New("primary.proposer", "authority", self),
	}
	p.windowStart = time.Now()
	if last, err := table.Get(); err == nil {
		p.lastProposed = last
		// p.round trails the persisted header by one so the next
		// MaybeAdvance computes nextRound == last.Round and re-emits it
		// verbatim instead of building past a header that may never have
		// been broadcast before the crash.
		if last.Round > 0 {
			p.round = last.Round - 1
		}
	}
	return p
}

// SeedGenesisParents installs round-0 genesis certificates as round 1's
// parent set.
func (p *Proposer) SeedGenesisParents(genesis map[types.AuthorityIdentifier]*types.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range genesis {
		p.parents[id] = c
	}
}

// OnParentCertificate records a newly accepted certificate as a parent
// candidate for the current round, if its round matches (§4.6 "hand...to
// the proposer's parent channel if its round equals the proposer's
// current round").
func (p *Proposer) OnParentCertificate(cert *types.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cert.Round() != p.round {
		return
	}
	p.parents[cert.Author()] = cert
	leaderRound := p.round
	if leaderRound%2 == 0 {
		if leaderID := p.leaders.Leader(leaderRound); cert.Author() == leaderID {
			p.lastLeaderCert = cert
		}
	}
}

// OnOwnBatch enqueues a newly sealed batch digest for inclusion in a
// future header.
func (p *Proposer) OnOwnBatch(msg eventbus.OwnBatchMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.digestQueue = append(p.digestQueue, types.PayloadEntry{Digest: msg.Digest, WorkerID: msg.WorkerID, Timestamp: msg.Timestamp})
}

// OnCommitFeedback applies the state handler's (commit_round,
// committed_own_rounds) notice (§4.3 "Commit feedback").
func (p *Proposer) OnCommitFeedback(notice eventbus.CommitNotice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var maxCommitted types.Round
	for _, r := range notice.OwnRounds {
		delete(p.pendingCommit, r)
		if r > maxCommitted {
			maxCommitted = r
		}
	}
	for r, rec := range p.pendingCommit {
		if r <= maxCommitted {
			// Re-inject this round's digests to the front of the queue so
			// nothing is lost if the leader path skipped it.
			p.digestQueue = append(append([]types.PayloadEntry{}, rec.header.Payload...), p.digestQueue...)
			delete(p.pendingCommit, r)
		}
	}
}

// ready evaluates the proposal gate of §4.3. Must be called with p.mu held.
func (p *Proposer) ready(now time.Time) bool {
	if len(p.parents) == 0 {
		return false
	}
	elapsed := now.Sub(p.windowStart)
	if elapsed >= p.maxHeaderDelay {
		p.log.Warn("forcing round advance on max_header_delay", "round", p.round)
		return true
	}
	countOK := len(p.digestQueue) >= p.headerNumBatchesThreshold || elapsed >= p.minHeaderDelay
	if !countOK {
		return false
	}
	if p.round%2 == 0 {
		return p.leaders.Leader(p.round) == p.self
	}
	return p.oddRoundGateSatisfied()
}

// oddRoundGateSatisfied implements the odd-round leg of §4.3's gate: this
// node is next leader, or last_leader is supported by ≥f+1 stake of
// current parents, or ≥2f+1 stake explicitly skipped it, or there is no
// known last_leader.
func (p *Proposer) oddRoundGateSatisfied() bool {
	if p.leaders.Leader(p.round+1) == p.self {
		return true
	}
	if p.lastLeaderCert == nil {
		return true
	}
	leaderDigest := p.lastLeaderCert.Digest()
	var supportStake, skipStake types.Stake
	for author, cert := range p.parents {
		a, ok := p.comm.Authority(author)
		if !ok {
			continue
		}
		referenced := false
		for _, parent := range cert.Parents() {
			if parent == leaderDigest {
				referenced = true
				break
			}
		}
		if referenced {
			supportStake += a.Stake
		} else {
			skipStake += a.Stake
		}
	}
	return supportStake >= p.comm.ValidityThreshold() || skipStake >= p.comm.QuorumThreshold()
}

// MaybeAdvance checks the proposal gate and, if satisfied, advances to
// round+1 and emits the new header. Returns nil, false if the gate is not
// yet satisfied.
func (p *Proposer) MaybeAdvance(ctx context.Context) (*types.Header, bool) {
	p.mu.Lock()
	now := time.Now()
	if !p.ready(now) {
		p.mu.Unlock()
		return nil, false
	}
	nextRound := p.round + 1
	epoch := p.epoch

	// Idempotent re-send: if the persisted last-proposed header already
	// matches (round, epoch), re-emit it verbatim rather than building a
	// new one.
	if p.lastProposed != nil && p.lastProposed.Round == nextRound && p.lastProposed.Epoch == epoch {
		h := p.lastProposed
		p.mu.Unlock()
		return h, true
	}

	n := len(p.digestQueue)
	if n > p.maxHeaderNumOfBatches {
		n = p.maxHeaderNumOfBatches
	}
	drained := append([]types.PayloadEntry{}, p.digestQueue[:n]...)
	remaining := append([]types.PayloadEntry{}, p.digestQueue[n:]...)

	var parentDigests []types.CertificateDigest
	var maxParentCreatedAt types.TimestampSec
	parents := make(map[types.AuthorityIdentifier]*types.Certificate, len(p.parents))
	for id, c := range p.parents {
		parentDigests = append(parentDigests, c.Digest())
		if c.Header.CreatedAt > maxParentCreatedAt {
			maxParentCreatedAt = c.Header.CreatedAt
		}
		parents[id] = c
	}
	p.mu.Unlock()

	createdAt := types.TimestampSec(now.Unix())
	if createdAt < maxParentCreatedAt {
		time.Sleep(time.Duration(maxParentCreatedAt-createdAt) * time.Second)
		createdAt = maxParentCreatedAt
	}

	extra, err := p.builder.BuildHeader(ctx, nextRound, epoch, createdAt, drained, parentDigests)
	if err != nil {
		// Failure mode: abort this round's proposal, retry on next tick;
		// do not advance without a successful header build.
		p.log.Warn("execution header build failed, will retry", "round", nextRound, "err", err)
		return nil, false
	}

	header := &types.Header{Author: p.self, Round: nextRound, Epoch: epoch, CreatedAt: createdAt, Payload: drained, Parents: parentDigests, Extra: extra}
	header.Signature = p.signer.Sign(header.SigningMessage())

	if err := p.table.Put(header); err != nil {
		p.log.Error("persist last-proposed header failed", "round", nextRound, "err", err)
		return nil, false
	}

	p.mu.Lock()
	p.round = nextRound
	p.digestQueue = remaining
	p.lastProposed = header
	p.pendingCommit[nextRound] = proposalRecord{header: header, includedDigests: digestsOf(drained)}
	p.parents = make(map[types.AuthorityIdentifier]*types.Certificate)
	// The leader certificate captured during the even round stays in place
	// for the following odd round's gate.
	if nextRound%2 == 0 {
		p.lastLeaderCert = nil
	}
	p.windowStart = time.Now()
	p.mu.Unlock()

	return header, true
}

func digestsOf(entries []types.PayloadEntry) []types.BatchDigest {
	out := make([]types.BatchDigest, len(entries))
	for i, e := range entries {
		out[i] = e.Digest
	}
	return out
}

// Round returns the proposer's current round.
func (p *Proposer) Round() types.Round {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.round
}
