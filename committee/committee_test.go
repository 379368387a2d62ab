package committee

import (
	"testing"

	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/types"
)

func fourEqualStakeAuthorities(t *testing.T) []types.Authority {
	t.Helper()
	var out []types.Authority
	for i := 0; i < 4; i++ {
		priv, err := crypto.GenerateBLSKey()
		if err != nil {
			t.Fatalf("generate bls key: %v", err)
		}
		net, err := crypto.GenerateNetworkKey()
		if err != nil {
			t.Fatalf("generate network key: %v", err)
		}
		out = append(out, types.Authority{
			ID: types.AuthorityIdentifier(i), Stake: 1,
			ConsensusKey: priv.Public(), NetworkKey: net.Public(), PrimaryAddress: "127.0.0.1:0",
		})
	}
	return out
}

func TestQuorumAndValidityThresholds(t *testing.T) {
	comm, err := NewCommittee(0, fourEqualStakeAuthorities(t))
	if err != nil {
		t.Fatalf("new committee: %v", err)
	}
	// 4 equal-stake authorities: total=4, quorum=2f+1 with f=1 -> 3, validity=f+1 -> 2.
	if comm.QuorumThreshold() != 3 {
		t.Fatalf("want quorum 3, got %d", comm.QuorumThreshold())
	}
	if comm.ValidityThreshold() != 2 {
		t.Fatalf("want validity 2, got %d", comm.ValidityThreshold())
	}
	if !comm.HasQuorum([]types.AuthorityIdentifier{0, 1, 2}) {
		t.Fatalf("expected 3 authorities to satisfy quorum")
	}
	if comm.HasQuorum([]types.AuthorityIdentifier{0, 1}) {
		t.Fatalf("expected 2 authorities to be insufficient for quorum")
	}
}

func TestNewCommitteeRejectsNonDenseIDs(t *testing.T) {
	authorities := fourEqualStakeAuthorities(t)
	authorities[2].ID = 9
	if _, err := NewCommittee(0, authorities); err == nil {
		t.Fatalf("expected error for non-dense authority ids")
	}
}

func TestLeaderIsDeterministicAcrossCommitteeInstances(t *testing.T) {
	authorities := fourEqualStakeAuthorities(t)
	comm1, err := NewCommittee(0, authorities)
	if err != nil {
		t.Fatalf("new committee 1: %v", err)
	}
	comm2, err := NewCommittee(0, authorities)
	if err != nil {
		t.Fatalf("new committee 2: %v", err)
	}
	for r := types.Round(2); r < 20; r += 2 {
		if comm1.Leader(r) != comm2.Leader(r) {
			t.Fatalf("leader election diverged at round %d", r)
		}
	}
}

func TestFromGenesisVerifiesProofOfPossession(t *testing.T) {
	genesis := &types.Genesis{Epoch: 1, ChainSpec: []byte("chain-spec-v1")}
	var privs []*crypto.BLSPrivateKey
	for i := 0; i < 3; i++ {
		priv, err := crypto.GenerateBLSKey()
		if err != nil {
			t.Fatalf("generate bls key: %v", err)
		}
		net, err := crypto.GenerateNetworkKey()
		if err != nil {
			t.Fatalf("generate network key: %v", err)
		}
		privs = append(privs, priv)
		pop := priv.Sign(genesis.ProofOfPossessionMessage())
		genesis.Validators = append(genesis.Validators, types.ValidatorInfo{
			AuthorityID: types.AuthorityIdentifier(i), Stake: 1,
			BLSPublicKey: priv.Public().Bytes(), NetworkPublicKey: net.Public().Bytes(),
			PrimaryAddress: "127.0.0.1:0", ProofOfPossession: pop.Bytes(),
		})
	}
	comm, err := FromGenesis(genesis)
	if err != nil {
		t.Fatalf("from genesis: %v", err)
	}
	if comm.Size() != 3 {
		t.Fatalf("want 3 authorities, got %d", comm.Size())
	}
}

func TestFromGenesisRejectsBadProofOfPossession(t *testing.T) {
	genesis := &types.Genesis{Epoch: 1, ChainSpec: []byte("chain-spec-v1")}
	priv, err := crypto.GenerateBLSKey()
	if err != nil {
		t.Fatalf("generate bls key: %v", err)
	}
	net, err := crypto.GenerateNetworkKey()
	if err != nil {
		t.Fatalf("generate network key: %v", err)
	}
	wrongPriv, err := crypto.GenerateBLSKey()
	if err != nil {
		t.Fatalf("generate wrong bls key: %v", err)
	}
	badPOP := wrongPriv.Sign(genesis.ProofOfPossessionMessage())
	genesis.Validators = []types.ValidatorInfo{{
		AuthorityID: 0, Stake: 1,
		BLSPublicKey: priv.Public().Bytes(), NetworkPublicKey: net.Public().Bytes(),
		PrimaryAddress: "127.0.0.1:0", ProofOfPossession: badPOP.Bytes(),
	}}
	if _, err := FromGenesis(genesis); err == nil {
		t.Fatalf("expected proof-of-possession verification to fail")
	}
}

func TestWorkerCacheAddressAndSiblings(t *testing.T) {
	validators := []types.ValidatorInfo{
		{AuthorityID: 0, WorkerIndex: map[types.WorkerID]string{0: "127.0.0.1:9000"}},
		{AuthorityID: 1, WorkerIndex: map[types.WorkerID]string{0: "127.0.0.1:9001"}},
	}
	wc := NewWorkerCache(validators)
	addr, err := wc.Address(1, 0)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if addr != "127.0.0.1:9001" {
		t.Fatalf("unexpected address: %s", addr)
	}
	siblings := wc.Siblings(0, 0)
	if _, ok := siblings[0]; ok {
		t.Fatalf("self must be excluded from siblings")
	}
	if siblings[1] != "127.0.0.1:9001" {
		t.Fatalf("expected sibling 1 at 127.0.0.1:9001, got %v", siblings)
	}
}
