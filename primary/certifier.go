package primary

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/telcoin-network/tn-consensus-core/bitmap"
	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/dag"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// Certifier turns an own header into a certificate by collecting votes
// from every other authority, aggregating once quorum stake is reached,
// and broadcasting the result (§4.4).
type Certifier struct {
	self      types.AuthorityIdentifier
	comm      *committee.Committee
	transport rpc.Transport
	d         *dag.Dag
	maxRetries int

	log *xlog.Logger
}

// NewCertifier constructs a Certifier.
func NewCertifier(self types.AuthorityIdentifier, comm *committee.Committee, transport rpc.Transport, d *dag.Dag, maxRetries int) *Certifier {
	return &Certifier{self: self, comm: comm, transport: transport, d: d, maxRetries: maxRetries, log: xlog.New("primary.certifier", "authority", self)}
}

// Certify drives the RequestVote fan-out for header and returns the
// resulting Certificate once ≥2f+1 stake of votes has been aggregated.
func (c *Certifier) Certify(ctx context.Context, header *types.Header) (*types.Certificate, error) {
	quorum := c.comm.QuorumThreshold()

	var mu sync.Mutex
	votes := make(map[types.AuthorityIdentifier]*types.Vote)
	var stake types.Stake
	if a, ok := c.comm.Authority(c.self); ok {
		// The author's own certificate counts its own implicit self-vote
		// toward quorum once aggregated; self-signature is verified
		// identically to any other voter's.
		stake += a.Stake
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range c.comm.Authorities() {
		if a.ID == c.self {
			continue
		}
		a := a
		g.Go(func() error {
			vote, err := c.requestVoteWithRetry(gctx, a.ID, header)
			if err != nil {
				c.log.Warn("request vote failed", "peer", a.ID, "err", err)
				return nil
			}
			if vote == nil {
				return nil
			}
			sigMsg := vote.SigningMessage()
			if !a.ConsensusKey.Verify(sigMsg, vote.Signature) {
				c.log.Warn("vote signature verification failed", "peer", a.ID)
				return nil
			}
			mu.Lock()
			if _, dup := votes[a.ID]; !dup {
				votes[a.ID] = vote
				stake += a.Stake
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if stake < quorum {
		return nil, types.NewError(types.KindNetwork, "certifier: quorum not reached", nil)
	}

	signers := bitmap.NewBitmap(c.comm.Size())
	sigs := []*crypto.BLSSignature{header.Signature}
	signers.Set(int(c.self))
	for id, v := range votes {
		signers.Set(int(id))
		sigs = append(sigs, v.Signature)
	}
	aggSig, err := crypto.AggregateSignatures(sigs)
	if err != nil {
		return nil, types.NewError(types.KindInvariant, "certifier: aggregate signatures", err)
	}

	cert := &types.Certificate{Header: *header, AggregatedSignature: aggSig, Signers: signers}
	c.d.Insert(cert)
	return cert, nil
}

// requestVoteWithRetry sends RequestVote, and on a missing-certificates
// response fetches them from another peer before retrying, bounded by
// maxRetries.
func (c *Certifier) requestVoteWithRetry(ctx context.Context, peer types.AuthorityIdentifier, header *types.Header) (*types.Vote, error) {
	addr := c.peerAddress(peer)
	attachedParents := c.localParents(header.Parents)

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req := &rpc.RequestVoteRequest{Header: *header, Parents: attachedParents}
		var resp rpc.RequestVoteResponse
		if err := c.transport.Call(ctx, addr, "RequestVote", req, &resp); err != nil {
			return nil, err
		}
		if resp.Vote != nil {
			return resp.Vote, nil
		}
		if len(resp.Missing) == 0 {
			return nil, nil
		}
		fetched := c.fetchMissingCertificates(ctx, resp.Missing)
		attachedParents = append(attachedParents, fetched...)
	}
	return nil, types.NewError(types.KindNetwork, "certifier: exhausted retries requesting vote", nil)
}

func (c *Certifier) peerAddress(peer types.AuthorityIdentifier) string {
	a, _ := c.comm.Authority(peer)
	return a.PrimaryAddress
}

func (c *Certifier) localParents(digests []types.CertificateDigest) []*types.Certificate {
	out := make([]*types.Certificate, 0, len(digests))
	for _, d := range digests {
		if cert, ok := c.d.Get(d); ok {
			out = append(out, cert)
		}
	}
	return out
}

// fetchMissingCertificates asks any other known peer for the listed
// digests via GetCertificates.
func (c *Certifier) fetchMissingCertificates(ctx context.Context, digests []types.CertificateDigest) []*types.Certificate {
	for _, a := range c.comm.Authorities() {
		if a.ID == c.self {
			continue
		}
		req := &rpc.GetCertificatesRequest{Digests: digests}
		var resp rpc.GetCertificatesResponse
		if err := c.transport.Call(ctx, a.PrimaryAddress, "GetCertificates", req, &resp); err == nil && len(resp.Certificates) > 0 {
			return resp.Certificates
		}
	}
	return nil
}
