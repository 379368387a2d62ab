package primary

import (
	"context"
	"time"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/dag"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// Primary wires together the proposer, certifier, voter, synchronizer,
// acceptor and state handler for one authority (§4.3-§4.6).
type Primary struct {
	Self     types.AuthorityIdentifier
	Proposer *Proposer
	Certifier *Certifier
	Voter     *Voter
	Sync      *Synchronizer
	Acceptor  *Acceptor
	State     *StateHandler

	tickInterval   time.Duration
	resendInterval time.Duration
	log            *xlog.Logger
}

// Config bundles the construction-time dependencies a Primary needs.
type Config struct {
	Self      types.AuthorityIdentifier
	Epoch     types.Epoch
	Committee *committee.Committee
	Leaders   LeaderElector
	Signer    *crypto.BLSPrivateKey
	Builder   ExecutionHeaderBuilder
	Transport rpc.Transport
	KV        storage.KV
	WorkerSync WorkerSynchronizer

	MinHeaderDelay            time.Duration
	MaxHeaderDelay            time.Duration
	HeaderResendDelay         time.Duration
	HeaderNumBatchesThreshold int
	MaxHeaderNumOfBatches     int
	MaxClockSkew              time.Duration
	GCDepth                   types.Round
	MaxVoteRetries            int
	TickInterval              time.Duration
}

// New constructs a fully wired Primary over a fresh in-memory DAG seeded
// with genesis certificates.
func New(cfg Config, bus *eventbus.ConsensusBus) *Primary {
	d := dag.New(cfg.Committee)
	lastProposedTable := storage.NewLastProposedTable(cfg.KV)
	certTable := storage.NewCertificateTable(cfg.KV)
	byRound := storage.NewCertificateByRoundTable(cfg.KV)
	byOrigin := storage.NewCertificateByOriginTable(cfg.KV)
	voteTable := storage.NewVoteTable(cfg.KV)

	proposer := NewProposer(cfg.Self, cfg.Epoch, cfg.Committee, cfg.Leaders, cfg.Signer, cfg.Builder, lastProposedTable, cfg.MinHeaderDelay, cfg.MaxHeaderDelay, cfg.HeaderNumBatchesThreshold, cfg.MaxHeaderNumOfBatches)
	genesis := make(map[types.AuthorityIdentifier]*types.Certificate)
	for _, a := range cfg.Committee.Authorities() {
		c, _ := d.CertificateAt(types.GenesisRound, a.ID)
		genesis[a.ID] = c
	}
	proposer.SeedGenesisParents(genesis)

	certifier := NewCertifier(cfg.Self, cfg.Committee, cfg.Transport, d, cfg.MaxVoteRetries)
	acceptor := NewAcceptor(cfg.Epoch, cfg.Committee, d, certTable, byRound, byOrigin)
	sync := NewSynchronizer(cfg.Self, cfg.Committee, d, certTable, byRound, byOrigin, cfg.Transport, acceptor, bus)
	voter := NewVoter(cfg.Self, cfg.Epoch, cfg.Committee, d, voteTable, cfg.Signer, cfg.WorkerSync, sync, cfg.GCDepth, cfg.MaxClockSkew)
	state := NewStateHandler(cfg.Self)

	tick := cfg.TickInterval
	if tick == 0 {
		tick = 5 * time.Millisecond
	}
	resend := cfg.HeaderResendDelay
	if resend == 0 {
		resend = 2 * time.Second
	}

	return &Primary{
		Self: cfg.Self, Proposer: proposer, Certifier: certifier, Voter: voter, Sync: sync, Acceptor: acceptor, State: state,
		tickInterval: tick, resendInterval: resend, log: xlog.New("primary", "authority", cfg.Self),
	}
}

// Run drives the proposer's gate on a tick and feeds its own headers
// through the certifier, the parent-certificate channel into
// Proposer.OnParentCertificate, own-batch announcements into the digest
// queue, and commit feedback back into the proposer, until ctx is
// cancelled. A separate header_resend timer re-sends the most recently
// proposed header to the certifier until it is certified, covering the
// case where the original RequestVote fan-out failed to reach quorum and
// nothing else would prompt a retry (the proposal gate itself only fires
// once parents for the next round accumulate).
func (p *Primary) Run(ctx context.Context, bus *eventbus.ConsensusBus) {
	go p.State.Run(bus)
	go p.pumpChannels(bus)

	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()
	resend := time.NewTicker(p.resendInterval)
	defer resend.Stop()

	var pending *types.Header
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			header, ok := p.Proposer.MaybeAdvance(ctx)
			if !ok {
				continue
			}
			pending = header
			p.certifyAndBroadcast(ctx, header, bus, &pending)
		case <-resend.C:
			if pending == nil {
				continue
			}
			p.log.Warn("header_resend: re-sending uncertified header", "round", pending.Round)
			p.certifyAndBroadcast(ctx, pending, bus, &pending)
		}
	}
}

// certifyAndBroadcast runs the certifier over header and, on success,
// clears *pending (so the resend timer stops retrying it) and broadcasts
// the resulting certificate. On failure *pending is left set so the next
// header_resend tick retries the same header verbatim.
func (p *Primary) certifyAndBroadcast(ctx context.Context, header *types.Header, bus *eventbus.ConsensusBus, pending **types.Header) {
	cert, err := p.Certifier.Certify(ctx, header)
	if err != nil {
		p.log.Warn("certification failed, will retry on next header_resend tick", "round", header.Round, "err", err)
		return
	}
	*pending = nil
	p.broadcastCertificate(ctx, cert, bus)
}

func (p *Primary) pumpChannels(bus *eventbus.ConsensusBus) {
	for {
		select {
		case <-bus.Context().Done():
			return
		case cert := <-bus.ParentCertificates:
			p.Proposer.OnParentCertificate(cert)
		case msg := <-bus.OwnBatches:
			p.Proposer.OnOwnBatch(msg)
		case notice := <-bus.CommittedOwnHeaders:
			p.Proposer.OnCommitFeedback(notice)
		}
	}
}

func (p *Primary) broadcastCertificate(ctx context.Context, cert *types.Certificate, bus *eventbus.ConsensusBus) {
	// Local admission mirrors what a remote SendCertificate handler would
	// do, so this node's own certificate flows through the same
	// acceptance path (parents already present since Certify only runs
	// after they were accepted).
	if _, err := p.Acceptor.Accept(ctx, cert, bus); err != nil {
		p.log.Error("failed to locally accept own certificate", "round", cert.Round(), "err", err)
	}

	for _, a := range p.Sync.comm.Authorities() {
		if a.ID == p.Self {
			continue
		}
		a := a
		go func() {
			req := &rpc.SendCertificateRequest{Certificate: cert}
			var resp rpc.SendCertificateResponse
			if err := p.Sync.transport.Call(ctx, a.PrimaryAddress, "SendCertificate", req, &resp); err != nil {
				p.log.Warn("SendCertificate failed", "peer", a.ID, "err", err)
			}
		}()
	}
}

// RegisterRPC wires the primary's RPC surface onto server (§6).
func (p *Primary) RegisterRPC(server *rpc.Server, bus *eventbus.ConsensusBus) {
	server.Register("SendCertificate", func() any { return &rpc.SendCertificateRequest{} }, func(ctx context.Context, req any) (any, error) {
		return p.Sync.HandleSendCertificate(ctx, req.(*rpc.SendCertificateRequest)), nil
	})
	server.Register("RequestVote", func() any { return &rpc.RequestVoteRequest{} }, func(ctx context.Context, req any) (any, error) {
		return p.Voter.HandleRequestVote(ctx, req.(*rpc.RequestVoteRequest)), nil
	})
	server.Register("GetCertificates", func() any { return &rpc.GetCertificatesRequest{} }, func(ctx context.Context, req any) (any, error) {
		return p.Sync.HandleGetCertificates(req.(*rpc.GetCertificatesRequest)), nil
	})
	server.Register("FetchCertificates", func() any { return &rpc.FetchCertificatesRequest{} }, func(ctx context.Context, req any) (any, error) {
		return p.Sync.HandleFetchCertificates(req.(*rpc.FetchCertificatesRequest)), nil
	})
}
