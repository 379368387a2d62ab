package dag

import (
	"testing"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
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

func TestNewSeedsGenesisCertificates(t *testing.T) {
	comm := fourAuthorityCommittee(t)
	d := New(comm)
	for _, a := range comm.Authorities() {
		cert, ok := d.CertificateAt(types.GenesisRound, a.ID)
		if !ok {
			t.Fatalf("expected genesis certificate for %s", a.ID)
		}
		if !d.Contains(cert.Digest()) {
			t.Fatalf("expected genesis certificate to be indexed by digest")
		}
	}
}

func TestParentsPresentAndMissingParents(t *testing.T) {
	comm := fourAuthorityCommittee(t)
	d := New(comm)

	genesis, _ := d.CertificateAt(types.GenesisRound, 0)
	cert := &types.Certificate{
		Header: types.Header{Author: 0, Round: 1, Parents: []types.CertificateDigest{genesis.Digest()}},
		Signers: nil,
	}
	if !d.ParentsPresent(cert) {
		t.Fatalf("expected genesis parent to already be present")
	}
	if missing := d.MissingParents(cert); len(missing) != 0 {
		t.Fatalf("expected no missing parents, got %d", len(missing))
	}

	unknown := types.CertificateDigest{0xff}
	cert2 := &types.Certificate{Header: types.Header{Author: 1, Round: 1, Parents: []types.CertificateDigest{unknown}}}
	if d.ParentsPresent(cert2) {
		t.Fatalf("expected unknown parent to be reported missing")
	}
	if missing := d.MissingParents(cert2); len(missing) != 1 || missing[0] != unknown {
		t.Fatalf("expected exactly the unknown digest reported missing, got %v", missing)
	}
}

func TestGarbageCollectEvictsOldRoundsOnly(t *testing.T) {
	comm := fourAuthorityCommittee(t)
	d := New(comm)

	cert := &types.Certificate{Header: types.Header{Author: 0, Round: 1}}
	d.Insert(cert)
	if !d.Contains(cert.Digest()) {
		t.Fatalf("expected round-1 certificate to be indexed")
	}

	d.GarbageCollect(1)
	if d.Contains(cert.Digest()) {
		t.Fatalf("expected round-1 certificate to be evicted after GC to round 1")
	}
	genesisCert, _ := d.CertificateAt(types.GenesisRound, 0)
	if genesisCert == nil {
		t.Fatalf("expected genesis round to survive GC to round 1 (GC only evicts rounds 1..newGCRound)")
	}
	if d.GCRound() != 1 {
		t.Fatalf("expected gc round to be 1, got %d", d.GCRound())
	}
}
