package bullshark

import (
	"testing"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/dag"
	"github.com/telcoin-network/tn-consensus-core/types"
)

func fourAuthorityCommittee(t *testing.T) *committee.Committee {
	t.Helper()
	var authorities []types.Authority
	for i := 0; i < 4; i++ {
		priv, err := crypto.GenerateBLSKey()
		if err != nil {
			t.Fatalf("generate bls key: %v", err)
		}
		net, err := crypto.GenerateNetworkKey()
		if err != nil {
			t.Fatalf("generate network key: %v", err)
		}
		authorities = append(authorities, types.Authority{
			ID: types.AuthorityIdentifier(i), Stake: 1,
			ConsensusKey: priv.Public(), NetworkKey: net.Public(),
		})
	}
	comm, err := committee.NewCommittee(0, authorities)
	if err != nil {
		t.Fatalf("new committee: %v", err)
	}
	return comm
}

// buildFullRound creates one certificate per authority at round r, each
// parented on every round r-1 certificate (or genesis at r==1).
func buildFullRound(d *dag.Dag, comm *committee.Committee, r types.Round, parents map[types.AuthorityIdentifier]*types.Certificate) map[types.AuthorityIdentifier]*types.Certificate {
	var parentDigests []types.CertificateDigest
	for _, c := range parents {
		parentDigests = append(parentDigests, c.Digest())
	}
	out := make(map[types.AuthorityIdentifier]*types.Certificate)
	for _, a := range comm.Authorities() {
		cert := &types.Certificate{Header: types.Header{Author: a.ID, Round: r, Parents: parentDigests}}
		d.Insert(cert)
		out[a.ID] = cert
	}
	return out
}

func TestCommitsLeaderWhenFullySupported(t *testing.T) {
	comm := fourAuthorityCommittee(t)
	d := dag.New(comm)
	bs := New(comm, d, 50, 300, 0.2)

	genesis := make(map[types.AuthorityIdentifier]*types.Certificate)
	for _, a := range comm.Authorities() {
		c, _ := d.CertificateAt(types.GenesisRound, a.ID)
		genesis[a.ID] = c
	}

	round1 := buildFullRound(d, comm, 1, genesis)
	round2 := buildFullRound(d, comm, 2, round1)
	_ = buildFullRound(d, comm, 3, round2)

	committed := bs.OnRoundComplete(3)
	if len(committed) != 1 {
		t.Fatalf("expected exactly 1 committed sub-dag, got %d", len(committed))
	}
	sub := committed[0]
	if sub.LeaderRound() != 2 {
		t.Fatalf("expected leader round 2, got %d", sub.LeaderRound())
	}
	if sub.SubDagIndex != 0 {
		t.Fatalf("expected sub_dag_index 0, got %d", sub.SubDagIndex)
	}
	// Leader must appear last in the ordered certificate list.
	last := sub.Certificates[len(sub.Certificates)-1]
	if last.Digest() != sub.Leader.Digest() {
		t.Fatalf("expected leader to appear last in causal history ordering")
	}
}

func TestNoCommitWithoutSupport(t *testing.T) {
	comm := fourAuthorityCommittee(t)
	d := dag.New(comm)
	bs := New(comm, d, 50, 300, 0.2)

	genesis := make(map[types.AuthorityIdentifier]*types.Certificate)
	for _, a := range comm.Authorities() {
		c, _ := d.CertificateAt(types.GenesisRound, a.ID)
		genesis[a.ID] = c
	}
	round1 := buildFullRound(d, comm, 1, genesis)
	leaderID := bs.schedule.Leader(2)
	leaderCert := &types.Certificate{Header: types.Header{Author: leaderID, Round: 2}}
	d.Insert(leaderCert)

	// Round-3 voters parent nothing from round 2's leader: no support.
	var round1Digests []types.CertificateDigest
	for _, c := range round1 {
		round1Digests = append(round1Digests, c.Digest())
	}
	for _, a := range comm.Authorities() {
		c := &types.Certificate{Header: types.Header{Author: a.ID, Round: 3, Parents: round1Digests}}
		d.Insert(c)
	}

	committed := bs.OnRoundComplete(3)
	if len(committed) != 0 {
		t.Fatalf("expected no commit without support, got %d", len(committed))
	}
}
