package primary

import (
	"context"
	"testing"
	"time"

	"github.com/telcoin-network/tn-consensus-core/bitmap"
	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/dag"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
)

func requestVoteReq(h *types.Header) *rpc.RequestVoteRequest {
	return &rpc.RequestVoteRequest{Header: *h}
}

type namedKey struct {
	id   types.AuthorityIdentifier
	priv *crypto.BLSPrivateKey
}

func fourAuthoritySetup(t *testing.T) (*committee.Committee, []namedKey) {
	t.Helper()
	var authorities []types.Authority
	var keys []namedKey
	for i := 0; i < 4; i++ {
		priv, err := crypto.GenerateBLSKey()
		if err != nil {
			t.Fatalf("generate bls key: %v", err)
		}
		net, err := crypto.GenerateNetworkKey()
		if err != nil {
			t.Fatalf("generate network key: %v", err)
		}
		id := types.AuthorityIdentifier(i)
		authorities = append(authorities, types.Authority{
			ID: id, Stake: 1, ConsensusKey: priv.Public(), NetworkKey: net.Public(), PrimaryAddress: "127.0.0.1:0",
		})
		keys = append(keys, namedKey{id: id, priv: priv})
	}
	comm, err := committee.NewCommittee(0, authorities)
	if err != nil {
		t.Fatalf("new committee: %v", err)
	}
	return comm, keys
}

type fakeWorkerSync struct{}

func (fakeWorkerSync) SynchronizePayload(ctx context.Context, digests []types.BatchDigest, target types.AuthorityIdentifier) error {
	return nil
}

type fakeCertSync struct{}

func (fakeCertSync) FetchParents(ctx context.Context, requesterParents []*types.Certificate, missing []types.CertificateDigest) ([]*types.Certificate, error) {
	return requesterParents, nil
}

func buildSignedHeader(t *testing.T, comm *committee.Committee, d *dag.Dag, keys []namedKey, author types.AuthorityIdentifier, round types.Round) *types.Header {
	t.Helper()
	var parents []types.CertificateDigest
	for _, a := range comm.Authorities() {
		c, ok := d.CertificateAt(round-1, a.ID)
		if !ok {
			continue
		}
		parents = append(parents, c.Digest())
	}
	h := &types.Header{Author: author, Round: round, Epoch: comm.Epoch(), CreatedAt: types.TimestampSec(time.Now().Unix()), Parents: parents}
	h.Signature = keys[author].priv.Sign(h.SigningMessage())
	return h
}

func TestVoterSignsValidHeader(t *testing.T) {
	comm, keys := fourAuthoritySetup(t)
	d := dag.New(comm)
	votes := storage.NewVoteTable(storage.NewMemKV())
	voterID := types.AuthorityIdentifier(1)
	voter := NewVoter(voterID, comm.Epoch(), comm, d, votes, keys[voterID].priv, fakeWorkerSync{}, fakeCertSync{}, 100, time.Minute)

	h := buildSignedHeader(t, comm, d, keys, 0, types.GenesisRound+1)
	resp := voter.HandleRequestVote(context.Background(), requestVoteReq(h))
	if resp.Vote == nil {
		t.Fatalf("expected a vote, got rejection (missing=%v)", resp.Missing)
	}
	if resp.Vote.Author != voterID || resp.Vote.Origin != h.Author {
		t.Fatalf("unexpected vote fields: %+v", resp.Vote)
	}
}

func TestVoterRejectsBadSignature(t *testing.T) {
	comm, keys := fourAuthoritySetup(t)
	d := dag.New(comm)
	votes := storage.NewVoteTable(storage.NewMemKV())
	voterID := types.AuthorityIdentifier(1)
	voter := NewVoter(voterID, comm.Epoch(), comm, d, votes, keys[voterID].priv, fakeWorkerSync{}, fakeCertSync{}, 100, time.Minute)

	h := buildSignedHeader(t, comm, d, keys, 0, types.GenesisRound+1)
	// Corrupt the signature by signing with the wrong key.
	h.Signature = keys[2].priv.Sign(h.SigningMessage())
	resp := voter.HandleRequestVote(context.Background(), requestVoteReq(h))
	if resp.Vote != nil {
		t.Fatalf("expected rejection for bad signature, got a vote")
	}
}

func TestVoterDetectsEquivocation(t *testing.T) {
	comm, keys := fourAuthoritySetup(t)
	d := dag.New(comm)
	votes := storage.NewVoteTable(storage.NewMemKV())
	voterID := types.AuthorityIdentifier(1)
	voter := NewVoter(voterID, comm.Epoch(), comm, d, votes, keys[voterID].priv, fakeWorkerSync{}, fakeCertSync{}, 100, time.Minute)

	h1 := buildSignedHeader(t, comm, d, keys, 0, types.GenesisRound+1)
	resp1 := voter.HandleRequestVote(context.Background(), requestVoteReq(h1))
	if resp1.Vote == nil {
		t.Fatalf("expected first vote to succeed")
	}

	h2 := &types.Header{Author: 0, Round: types.GenesisRound + 1, Epoch: comm.Epoch(), CreatedAt: h1.CreatedAt + 1, Parents: h1.Parents}
	h2.Signature = keys[0].priv.Sign(h2.SigningMessage())
	resp2 := voter.HandleRequestVote(context.Background(), requestVoteReq(h2))
	if resp2.Vote != nil {
		t.Fatalf("expected equivocating header to be rejected")
	}
}

func TestAcceptorSuspendsOnMissingParent(t *testing.T) {
	comm, keys := fourAuthoritySetup(t)
	d := dag.New(comm)
	kv := storage.NewMemKV()
	certs := storage.NewCertificateTable(kv)
	byRound := storage.NewCertificateByRoundTable(kv)
	byOrigin := storage.NewCertificateByOriginTable(kv)
	acceptor := NewAcceptor(comm.Epoch(), comm, d, certs, byRound, byOrigin)

	round1 := certifyRound(t, comm, d, keys, types.GenesisRound+1)
	// The round-2 waiter cites only a parent digest that no Insert call has
	// ever added to d, so Accept must suspend it; round1 only supplies a
	// CreatedAt for the waiter's header.
	target := round1[0]
	h := &types.Header{Author: 1, Round: types.GenesisRound + 2, Epoch: comm.Epoch(), CreatedAt: target.Header.CreatedAt + 1, Parents: []types.CertificateDigest{}}
	// Reference a parent digest that has never been inserted anywhere.
	var phantom types.CertificateDigest
	phantom[0] = 0xAB
	h.Parents = append(h.Parents, phantom)
	h.Signature = keys[1].priv.Sign(h.SigningMessage())
	waiter := signedCertificate(t, comm, keys, h)

	missing, err := acceptor.Accept(context.Background(), waiter, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 1 || missing[0] != phantom {
		t.Fatalf("expected suspension on the phantom parent, got %v", missing)
	}
	if d.Contains(waiter.Digest()) {
		t.Fatalf("waiter should not be indexed before its parent resolves")
	}
}

func TestProposerAdvancesFromEvenRoundWhenLeader(t *testing.T) {
	comm, keys := fourAuthoritySetup(t)
	kv := storage.NewMemKV()
	table := storage.NewLastProposedTable(kv)
	self := types.AuthorityIdentifier(0)
	builder := &fakeHeaderBuilder{}

	leaders := comm // committee.Leader implements LeaderElector
	proposer := NewProposer(self, comm.Epoch(), comm, leaders, keys[self].priv, builder, table, 0, time.Hour, 0, 100)

	genesis := make(map[types.AuthorityIdentifier]*types.Certificate)
	for _, a := range comm.Authorities() {
		genesis[a.ID] = types.GenesisCertificate(a.ID, comm.Epoch())
	}
	proposer.SeedGenesisParents(genesis)

	// The advance from genesis round 0 (even) is gated on this node being
	// round 0's leader; with this four-authority committee Leader(0) is
	// authority 0, which is self.
	_, ok := proposer.MaybeAdvance(context.Background())
	if !ok {
		t.Fatalf("expected round 1 advance to succeed")
	}
	if proposer.Round() != types.GenesisRound+1 {
		t.Fatalf("expected round to be 1, got %d", proposer.Round())
	}
}

type fakeHeaderBuilder struct{}

func (fakeHeaderBuilder) BuildHeader(ctx context.Context, round types.Round, epoch types.Epoch, createdAt types.TimestampSec, payload []types.PayloadEntry, parents []types.CertificateDigest) ([]byte, error) {
	return nil, nil
}

// certifyRound builds and inserts one certificate at round r for every
// authority, each aggregating vote signatures from all four keys,
// returning the certificates in committee order.
func certifyRound(t *testing.T, comm *committee.Committee, d *dag.Dag, keys []namedKey, r types.Round) []*types.Certificate {
	t.Helper()
	var out []*types.Certificate
	for _, a := range comm.Authorities() {
		h := buildSignedHeader(t, comm, d, keys, a.ID, r)
		cert := signedCertificate(t, comm, keys, h)
		d.Insert(cert)
		out = append(out, cert)
	}
	return out
}

// signedCertificate aggregates every authority's vote signature over h
// into a quorum certificate.
func signedCertificate(t *testing.T, comm *committee.Committee, keys []namedKey, h *types.Header) *types.Certificate {
	t.Helper()
	signers := bitmap.NewBitmap(comm.Size())
	var sigs []*crypto.BLSSignature
	for _, k := range keys {
		vote := types.NewVote(h, k.id, k.priv)
		sigs = append(sigs, vote.Signature)
		signers.Set(int(k.id))
	}
	agg, err := crypto.AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("aggregate signatures: %v", err)
	}
	return &types.Certificate{Header: *h, AggregatedSignature: agg, Signers: signers}
}
