package primary

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/dag"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// voteCacheSize bounds the voter's in-memory front cache of signed votes,
// which absorbs a network-retry storm of the same RequestVote without
// re-touching the durable VoteTable each time.
const voteCacheSize = 4096

// WorkerSynchronizer is the local hook the voter uses to ensure payload
// digests are present on this node's own worker before voting (§4.5 step
// 4, "WorkerSynchronizeMessage").
type WorkerSynchronizer interface {
	SynchronizePayload(ctx context.Context, digests []types.BatchDigest, target types.AuthorityIdentifier) error
}

// CertificateSynchronizer lets the voter request missing parent
// certificates before deciding whether to vote (§4.5 step 4).
type CertificateSynchronizer interface {
	FetchParents(ctx context.Context, requesterParents []*types.Certificate, missing []types.CertificateDigest) ([]*types.Certificate, error)
}

// Voter serves incoming RequestVote calls, applying the seven checks of
// §4.5.
type Voter struct {
	self        types.AuthorityIdentifier
	epoch       types.Epoch
	comm        *committee.Committee
	d           *dag.Dag
	votes       *storage.VoteTable
	signer      *crypto.BLSPrivateKey
	workerSync  WorkerSynchronizer
	certSync    CertificateSynchronizer
	gcDepth     types.Round
	maxClockSkew time.Duration
	voteCache   *lru.Cache

	log *xlog.Logger
}

// NewVoter constructs a Voter.
func NewVoter(self types.AuthorityIdentifier, epoch types.Epoch, comm *committee.Committee, d *dag.Dag, votes *storage.VoteTable, signer *crypto.BLSPrivateKey, workerSync WorkerSynchronizer, certSync CertificateSynchronizer, gcDepth types.Round, maxClockSkew time.Duration) *Voter {
	cache, _ := lru.New(voteCacheSize)
	return &Voter{
		self: self, epoch: epoch, comm: comm, d: d, votes: votes, signer: signer,
		workerSync: workerSync, certSync: certSync, gcDepth: gcDepth, maxClockSkew: maxClockSkew,
		voteCache: cache, log: xlog.New("primary.voter", "authority", self),
	}
}

// HandleRequestVote implements §4.5's seven steps.
func (v *Voter) HandleRequestVote(ctx context.Context, req *rpc.RequestVoteRequest) *rpc.RequestVoteResponse {
	h := &req.Header

	if cached, ok := v.voteCache.Get(h.Digest()); ok {
		return &rpc.RequestVoteResponse{Vote: cached.(*types.Vote)}
	}

	// Step 1: epoch, round floor, committee membership.
	if h.Epoch != v.epoch {
		v.log.Warn("rejecting header: wrong epoch", "author", h.Author, "epoch", h.Epoch)
		return &rpc.RequestVoteResponse{}
	}
	currentRound := v.d.HighestRound()
	if currentRound > v.gcDepth && h.Round < currentRound-v.gcDepth {
		v.log.Warn("rejecting header: below gc floor", "author", h.Author, "round", h.Round)
		return &rpc.RequestVoteResponse{}
	}
	if !v.comm.Contains(h.Author) {
		v.log.Warn("rejecting header: unknown author", "author", h.Author)
		return &rpc.RequestVoteResponse{}
	}

	// Step 2: author signature.
	authorAuthority, _ := v.comm.Authority(h.Author)
	if !authorAuthority.ConsensusKey.Verify(h.SigningMessage(), h.Signature) {
		v.log.Warn("rejecting header: bad signature", "author", h.Author)
		return &rpc.RequestVoteResponse{}
	}

	// Step 3: non-equivocation.
	if existing, err := v.votes.Get(v.self, h.Author); err == nil {
		vote := &types.Vote{HeaderDigest: h.Digest(), Round: h.Round, Epoch: h.Epoch, Origin: h.Author, Author: v.self}
		if existing.Epoch == h.Epoch && existing.Round == h.Round {
			if existing.VoteDigest != vote.Digest() {
				v.log.Error("equivocation detected", "author", h.Author, "round", h.Round)
				return &rpc.RequestVoteResponse{}
			}
			// Idempotent repeat request: re-sign and return the same vote.
			return &rpc.RequestVoteResponse{Vote: v.signVote(h)}
		}
	}

	// Step 4: synchronize missing parents and payload.
	var missing []types.CertificateDigest
	for _, p := range h.Parents {
		if !v.d.Contains(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		fetched, err := v.certSync.FetchParents(ctx, req.Parents, missing)
		if err != nil {
			return &rpc.RequestVoteResponse{Missing: missing}
		}
		for _, c := range fetched {
			v.d.Insert(c)
		}
		var stillMissing []types.CertificateDigest
		for _, p := range h.Parents {
			if !v.d.Contains(p) {
				stillMissing = append(stillMissing, p)
			}
		}
		if len(stillMissing) > 0 {
			return &rpc.RequestVoteResponse{Missing: stillMissing}
		}
	}
	var payloadDigests []types.BatchDigest
	for _, e := range h.Payload {
		payloadDigests = append(payloadDigests, e.Digest)
	}
	if len(payloadDigests) > 0 {
		if err := v.workerSync.SynchronizePayload(ctx, payloadDigests, h.Author); err != nil {
			v.log.Warn("payload synchronization incomplete", "author", h.Author, "err", err)
			return &rpc.RequestVoteResponse{Missing: missing}
		}
	}

	// Step 5: parent stake and acceptance.
	if !h.IsGenesisRound() {
		var parentStake types.Stake
		for _, p := range h.Parents {
			if cert, ok := v.d.Get(p); ok {
				if a, ok := v.comm.Authority(cert.Author()); ok {
					parentStake += a.Stake
				}
			}
		}
		if parentStake < v.comm.QuorumThreshold() {
			v.log.Warn("rejecting header: insufficient parent stake", "author", h.Author, "round", h.Round)
			return &rpc.RequestVoteResponse{}
		}
	}

	// Step 6: created_at bounds.
	var maxParentCreatedAt types.TimestampSec
	for _, p := range h.Parents {
		if cert, ok := v.d.Get(p); ok && cert.Header.CreatedAt > maxParentCreatedAt {
			maxParentCreatedAt = cert.Header.CreatedAt
		}
	}
	if h.CreatedAt < maxParentCreatedAt {
		v.log.Warn("rejecting header: created_at before parents", "author", h.Author)
		return &rpc.RequestVoteResponse{}
	}
	now := types.TimestampSec(time.Now().Unix())
	if h.CreatedAt > now+types.TimestampSec(v.maxClockSkew/time.Second) {
		v.log.Warn("rejecting header: created_at too far in the future", "author", h.Author)
		return &rpc.RequestVoteResponse{}
	}

	// Step 7: sign and persist.
	vote := v.signVote(h)
	info := types.NewVoteInfo(&types.Vote{HeaderDigest: h.Digest(), Round: h.Round, Epoch: h.Epoch, Origin: h.Author, Author: v.self})
	if err := v.votes.Put(v.self, info); err != nil {
		v.log.Error("persist vote record failed", "author", h.Author, "err", err)
		return &rpc.RequestVoteResponse{}
	}
	return &rpc.RequestVoteResponse{Vote: vote}
}

func (v *Voter) signVote(h *types.Header) *types.Vote {
	vote := &types.Vote{HeaderDigest: h.Digest(), Round: h.Round, Epoch: h.Epoch, Origin: h.Author, Author: v.self}
	vote.Signature = v.signer.Sign(vote.SigningMessage())
	v.voteCache.Add(h.Digest(), vote)
	return vote
}
