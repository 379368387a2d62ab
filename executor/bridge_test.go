package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
)

var testLeaderExecutionAddress = [20]byte{0xAB}

func buildTestCommittee(t *testing.T) *committee.Committee {
	t.Helper()
	priv, err := crypto.GenerateBLSKey()
	require.NoError(t, err)
	net, err := crypto.GenerateNetworkKey()
	require.NoError(t, err)
	comm, err := committee.NewCommittee(0, []types.Authority{{
		ID: 0, Stake: 1, ConsensusKey: priv.Public(), NetworkKey: net.Public(),
		PrimaryAddress: "127.0.0.1:0", ExecutionAddress: testLeaderExecutionAddress,
	}})
	require.NoError(t, err)
	return comm
}

type memBatchSource struct {
	batches map[types.BatchDigest]types.Batch
}

func (m *memBatchSource) Fetch(ctx context.Context, digests []types.BatchDigest, candidates []types.AuthorityIdentifier) (map[types.BatchDigest]types.Batch, error) {
	out := make(map[types.BatchDigest]types.Batch, len(digests))
	for _, d := range digests {
		if b, ok := m.batches[d]; ok {
			out[d] = b
		}
	}
	return out, nil
}

func buildTestSubDag(index types.SequenceNumber) (*types.CommittedSubDag, *memBatchSource) {
	batch := types.Batch{Transactions: [][]byte{[]byte("tx1")}, Timestamp: 1}
	digest := batch.Digest()
	leader := &types.Certificate{
		Header: types.Header{Author: 0, Round: 2, Epoch: 0, Payload: []types.PayloadEntry{{Digest: digest, WorkerID: 0, Timestamp: 1}}},
	}
	source := &memBatchSource{batches: map[types.BatchDigest]types.Batch{digest: batch}}
	sub := types.NewCommittedSubDag([]*types.Certificate{leader}, leader, index, types.ReputationScores{}, nil)
	return sub, source
}

func TestBridgeLogsAndHydratesCommit(t *testing.T) {
	sub, source := buildTestSubDag(0)
	kv := storage.NewMemKV()
	bridge, err := New(kv, source, buildTestCommittee(t))
	require.NoError(t, err)

	bus := eventbus.NewConsensusBus()
	outSub := bus.ConsensusOutput.Subscribe()
	defer outSub.Unsubscribe()

	bridge.process(context.Background(), bus, sub)

	select {
	case out := <-outSub.Chan():
		require.Len(t, out.Blocks, 1)
		require.Len(t, out.Blocks[0], 1)
		require.Equal(t, testLeaderExecutionAddress, out.Beneficiary)
	default:
		t.Fatalf("expected a ConsensusOutput to be published")
	}

	logTable := storage.NewConsensusLogTable(kv)
	commit, err := logTable.Get(0)
	require.NoError(t, err, "expected commit 0 to be logged")
	require.Equal(t, types.Round(2), commit.LeaderRound)
}

func TestBridgeSkipsAlreadyLoggedIndexAfterRecovery(t *testing.T) {
	sub, source := buildTestSubDag(0)
	kv := storage.NewMemKV()

	comm := buildTestCommittee(t)
	bridge1, err := New(kv, source, comm)
	require.NoError(t, err)
	bus := eventbus.NewConsensusBus()
	bridge1.process(context.Background(), bus, sub)

	// Simulate a restart: a fresh Bridge recovers lastIndex from the
	// durable log and must not reprocess sub-dag index 0.
	bridge2, err := New(kv, source, comm)
	require.NoError(t, err, "new bridge after restart")
	require.True(t, bridge2.haveLast)
	require.Equal(t, types.SequenceNumber(0), bridge2.lastIndex)

	outSub := bus.ConsensusOutput.Subscribe()
	defer outSub.Unsubscribe()
	bridge2.process(context.Background(), bus, sub)
	select {
	case <-outSub.Chan():
		t.Fatalf("expected already-logged commit to be skipped, not republished")
	default:
	}
}
