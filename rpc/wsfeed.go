package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// consensusOutputWire is the JSON shape pushed to execution subscribers.
// ConsensusOutput itself carries a container/list.List cursor that isn't
// meaningful off-process, so the feed flattens it into plain slices,
// matching the teacher's pattern of a dedicated notification type for
// each pub/sub subscription rather than reusing an internal struct as the
// wire format directly.
type consensusOutputWire struct {
	SubDagIndex  uint64              `json:"subDagIndex"`
	LeaderRound  uint64              `json:"leaderRound"`
	CommitStamp  int64               `json:"commitTimestamp"`
	Beneficiary  [20]byte            `json:"beneficiary"`
	BatchDigests []types.BatchDigest `json:"batchDigests"`
}

func toWire(o *types.ConsensusOutput) consensusOutputWire {
	batches := o.FlattenBatches()
	digests := make([]types.BatchDigest, len(batches))
	for i, b := range batches {
		digests[i] = b.Digest()
	}
	return consensusOutputWire{
		SubDagIndex:  uint64(o.SubDag.SubDagIndex),
		LeaderRound:  uint64(o.SubDag.LeaderRound()),
		CommitStamp:  int64(o.SubDag.CommitTimestamp()),
		Beneficiary:  o.Beneficiary,
		BatchDigests: digests,
	}
}

// upgrader permits any origin: this endpoint is meant for an execution
// client on the same trusted network as the primary, not a browser.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ConsensusOutputFeed serves bus.ConsensusOutput to execution-layer
// subscribers over WebSocket, one JSON frame per commit, mirroring the
// teacher's eth_subscribe notification stream.
type ConsensusOutputFeed struct {
	bus *eventbus.ConsensusBus
	log *xlog.Logger

	writeTimeout time.Duration
}

// NewConsensusOutputFeed constructs a feed handler over bus.
func NewConsensusOutputFeed(bus *eventbus.ConsensusBus) *ConsensusOutputFeed {
	return &ConsensusOutputFeed{bus: bus, log: xlog.New("rpc.wsfeed"), writeTimeout: 10 * time.Second}
}

// Handler returns an http.HandlerFunc suitable for mounting at, e.g.,
// "/subscribe/consensus-output".
func (f *ConsensusOutputFeed) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.log.Warn("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		sub := f.bus.ConsensusOutput.Subscribe()
		defer sub.Unsubscribe()

		ctx := f.bus.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.Context().Done():
				return
			case out, ok := <-sub.Chan():
				if !ok {
					return
				}
				payload, err := json.Marshal(toWire(out))
				if err != nil {
					f.log.Error("marshal consensus output failed", "err", err)
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					f.log.Warn("websocket write failed, dropping subscriber", "err", err)
					return
				}
			}
		}
	}
}
