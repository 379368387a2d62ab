package primary

import (
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// StateHandler consumes committed sub-DAGs and derives the
// (commit_round, committed_own_rounds) feedback the proposer needs to
// prune its pending-commit map, mirroring the original implementation's
// state handler task that bridges Bullshark's output back to the
// proposer.
type StateHandler struct {
	self types.AuthorityIdentifier
	log  *xlog.Logger
}

// NewStateHandler constructs a StateHandler for authority self.
func NewStateHandler(self types.AuthorityIdentifier) *StateHandler {
	return &StateHandler{self: self, log: xlog.New("primary.statehandler", "authority", self)}
}

// Run subscribes to bus.CommittedSubDags and forwards commit feedback to
// bus.CommittedOwnHeaders for every own-authored certificate found in each
// sub-DAG, until ctx is cancelled.
func (h *StateHandler) Run(bus *eventbus.ConsensusBus) {
	sub := bus.CommittedSubDags.Subscribe()
	defer sub.Unsubscribe()
	for {
		select {
		case <-bus.Context().Done():
			return
		case commit, ok := <-sub.Chan():
			if !ok {
				return
			}
			h.handle(bus, commit)
		}
	}
}

func (h *StateHandler) handle(bus *eventbus.ConsensusBus, commit *types.CommittedSubDag) {
	var ownRounds []types.Round
	for _, cert := range commit.Certificates {
		if cert.Author() == h.self {
			ownRounds = append(ownRounds, cert.Round())
		}
	}
	if commit.Leader.Author() == h.self {
		ownRounds = append(ownRounds, commit.Leader.Round())
	}
	if len(ownRounds) == 0 {
		return
	}
	notice := eventbus.CommitNotice{CommitRound: commit.LeaderRound(), OwnRounds: ownRounds}
	select {
	case bus.CommittedOwnHeaders <- notice:
	case <-bus.Context().Done():
	}
}
