package eventbus

import (
	"context"

	"github.com/telcoin-network/tn-consensus-core/types"
)

// CommitNotice is the (commit_round, committed_own_rounds) feedback the
// state handler sends back to the proposer — §4.3 "Commit feedback".
type CommitNotice struct {
	CommitRound  types.Round
	OwnRounds    []types.Round
}

// ConsensusBus is the process-wide struct of channels and feeds every
// component is constructed with by reference — §9 "no hidden singletons".
// A fresh ConsensusBus is created per node (or per test), never shared
// globally.
type ConsensusBus struct {
	ctx    context.Context
	cancel context.CancelFunc

	// OwnBatches carries WorkerOwnBatchMessage-equivalent notifications
	// from this node's own workers to its proposer's digest queue.
	OwnBatches chan OwnBatchMessage

	// ParentCertificates delivers newly accepted certificates whose round
	// equals the proposer's current round, feeding the "pending set of
	// parent certificates for round r" (§4.3).
	ParentCertificates chan *types.Certificate

	// AcceptedCertificates is the single FIFO channel the synchronizer
	// feeds into Bullshark (§4.6, §5).
	AcceptedCertificates chan *types.Certificate

	// CommittedSubDags is Bullshark's output feed; the state handler and
	// executor bridge each hold their own subscription and never drop
	// (§5 "its output channel preserves commit order").
	CommittedSubDags *Feed[*types.CommittedSubDag]

	// CommittedOwnHeaders is the state handler's feedback to the
	// proposer (§4.3 "Commit feedback").
	CommittedOwnHeaders chan CommitNotice

	// ConsensusOutput is the broadcast stream to execution subscribers;
	// lagging consumers drop (§4.8, §5).
	ConsensusOutput *Feed[*types.ConsensusOutput]
}

// OwnBatchMessage is a worker's own-batch announcement to its primary.
type OwnBatchMessage struct {
	Digest    types.BatchDigest
	WorkerID  types.WorkerID
	Timestamp types.TimestampSec
}

// NewConsensusBus wires up a fresh bus with every channel bounded per
// DefaultCapacity.
func NewConsensusBus() *ConsensusBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConsensusBus{
		ctx:                  ctx,
		cancel:               cancel,
		OwnBatches:           make(chan OwnBatchMessage, DefaultCapacity),
		ParentCertificates:   make(chan *types.Certificate, DefaultCapacity),
		AcceptedCertificates: make(chan *types.Certificate, DefaultCapacity),
		CommittedSubDags:     NewFeed[*types.CommittedSubDag](DefaultCapacity),
		CommittedOwnHeaders:  make(chan CommitNotice, DefaultCapacity),
		ConsensusOutput:      NewFeed[*types.ConsensusOutput](DefaultCapacity),
	}
}

// Context returns the bus's root context; every component selects against
// ctx.Done() as its shutdown notice (§5 "Cancellation").
func (b *ConsensusBus) Context() context.Context { return b.ctx }

// Shutdown cancels the root context, the single broadcast shutdown signal
// every component subscribes to.
func (b *ConsensusBus) Shutdown() { b.cancel() }
