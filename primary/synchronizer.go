package primary

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/telcoin-network/tn-consensus-core/bitmap"
	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/dag"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// Synchronizer drives FetchCertificates against peers to fill in missing
// parents, and serves the server side of GetCertificates/FetchCertificates
// for other primaries (§4.6).
type Synchronizer struct {
	self      types.AuthorityIdentifier
	comm      *committee.Committee
	d         *dag.Dag
	certs     *storage.CertificateTable
	byRound   *storage.CertificateByRoundTable
	byOrigin  *storage.CertificateByOriginTable
	transport rpc.Transport
	acceptor  *Acceptor
	bus       *eventbus.ConsensusBus

	log *xlog.Logger
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(self types.AuthorityIdentifier, comm *committee.Committee, d *dag.Dag, certs *storage.CertificateTable, byRound *storage.CertificateByRoundTable, byOrigin *storage.CertificateByOriginTable, transport rpc.Transport, acceptor *Acceptor, bus *eventbus.ConsensusBus) *Synchronizer {
	return &Synchronizer{
		self: self, comm: comm, d: d, certs: certs, byRound: byRound, byOrigin: byOrigin,
		transport: transport, acceptor: acceptor, bus: bus, log: xlog.New("primary.synchronizer", "authority", self),
	}
}

// FetchParents implements CertificateSynchronizer for the voter: it first
// looks in requesterParents (the parents the requesting header already
// carried), then asks peers via GetCertificates for whatever remains
// missing.
func (s *Synchronizer) FetchParents(ctx context.Context, requesterParents []*types.Certificate, missing []types.CertificateDigest) ([]*types.Certificate, error) {
	found := make(map[types.CertificateDigest]*types.Certificate)
	for _, c := range requesterParents {
		found[c.Digest()] = c
	}
	wanted := mapset.NewThreadUnsafeSet(missing...)
	have := mapset.NewThreadUnsafeSet[types.CertificateDigest]()
	for d := range found {
		have.Add(d)
	}
	stillMissing := wanted.Difference(have)
	if stillMissing.Cardinality() == 0 {
		out := make([]*types.Certificate, 0, len(missing))
		for _, m := range missing {
			out = append(out, found[m])
		}
		return out, nil
	}

	for _, a := range s.comm.Authorities() {
		if a.ID == s.self {
			continue
		}
		req := &rpc.GetCertificatesRequest{Digests: stillMissing.ToSlice()}
		var resp rpc.GetCertificatesResponse
		if err := s.transport.Call(ctx, a.PrimaryAddress, "GetCertificates", req, &resp); err != nil {
			continue
		}
		for _, c := range resp.Certificates {
			found[c.Digest()] = c
			have.Add(c.Digest())
		}
		stillMissing = wanted.Difference(have)
		if stillMissing.Cardinality() == 0 {
			break
		}
	}
	out := make([]*types.Certificate, 0, len(missing))
	for _, m := range missing {
		if c, ok := found[m]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// FetchFromPeers sends one FetchCertificates request to every other
// authority in turn, accepting every returned certificate through
// Acceptor; it does not repeat the round of requests.
func (s *Synchronizer) FetchFromPeers(ctx context.Context, maxItems uint32) {
	gcRound := s.d.GCRound()
	skipRounds := s.buildSkipRounds(gcRound)

	for _, a := range s.comm.Authorities() {
		if a.ID == s.self {
			continue
		}
		req := &rpc.FetchCertificatesRequest{ExclusiveLowerBound: gcRound, SkipRounds: skipRounds, MaxItems: maxItems}
		var resp rpc.FetchCertificatesResponse
		if err := s.transport.Call(ctx, a.PrimaryAddress, "FetchCertificates", req, &resp); err != nil {
			s.log.Warn("FetchCertificates failed", "peer", a.ID, "err", err)
			continue
		}
		for _, cert := range resp.Certificates {
			if _, err := s.acceptor.Accept(ctx, cert, s.bus); err != nil {
				s.log.Warn("rejected fetched certificate", "digest", cert.Digest(), "err", err)
			}
		}
	}
}

// buildSkipRounds encodes, per authority, which rounds since gcRound this
// node already holds, as the compressed bitmap §6 specifies.
func (s *Synchronizer) buildSkipRounds(gcRound types.Round) map[types.AuthorityIdentifier]*bitmap.Bitmap {
	highest := s.d.HighestRound()
	size := 0
	if highest > gcRound {
		size = int(highest - gcRound)
	}
	out := make(map[types.AuthorityIdentifier]*bitmap.Bitmap, s.comm.Size())
	for _, a := range s.comm.Authorities() {
		bm := bitmap.NewBitmap(size)
		for i := 0; i < size; i++ {
			round := gcRound + 1 + types.Round(i)
			if s.d.RoundCertificates(round)[a.ID] != nil {
				bm.Set(i)
			}
		}
		out[a.ID] = bm
	}
	return out
}

// HandleGetCertificates serves a GetCertificates request.
func (s *Synchronizer) HandleGetCertificates(req *rpc.GetCertificatesRequest) *rpc.GetCertificatesResponse {
	resp := &rpc.GetCertificatesResponse{}
	for _, d := range req.Digests {
		if c, ok := s.d.Get(d); ok {
			resp.Certificates = append(resp.Certificates, c)
		}
	}
	return resp
}

// HandleFetchCertificates serves a FetchCertificates request: returns
// certificates at rounds > exclusive_lower_bound that the requester's
// skip_rounds bitmap marks as not already held, sorted by round ascending,
// capped at max_items (§6).
func (s *Synchronizer) HandleFetchCertificates(req *rpc.FetchCertificatesRequest) *rpc.FetchCertificatesResponse {
	resp := &rpc.FetchCertificatesResponse{}
	highest := s.d.HighestRound()
	count := uint32(0)
	for r := req.ExclusiveLowerBound + 1; r <= highest && count < req.MaxItems; r++ {
		certsAtRound := s.d.RoundCertificates(r)
		for authorID, bm := range req.SkipRounds {
			idx := int(r - req.ExclusiveLowerBound - 1)
			if bm != nil && bm.Get(idx) {
				continue
			}
			if cert, ok := certsAtRound[authorID]; ok {
				resp.Certificates = append(resp.Certificates, cert)
				count++
				if count >= req.MaxItems {
					break
				}
			}
		}
	}
	return resp
}

// HandleSendCertificate serves an incoming SendCertificate request.
func (s *Synchronizer) HandleSendCertificate(ctx context.Context, req *rpc.SendCertificateRequest) *rpc.SendCertificateResponse {
	missing, err := s.acceptor.Accept(ctx, req.Certificate, s.bus)
	if err != nil {
		s.log.Warn("rejected certificate", "digest", req.Certificate.Digest(), "err", err)
		return &rpc.SendCertificateResponse{Accepted: false}
	}
	if len(missing) > 0 {
		go s.resolveMissing(context.Background(), missing)
		return &rpc.SendCertificateResponse{Accepted: false}
	}
	return &rpc.SendCertificateResponse{Accepted: true}
}

// resolveMissing fetches missing parent certificates from peers and feeds
// them back through Accept so suspended certificates can resume.
func (s *Synchronizer) resolveMissing(ctx context.Context, missing []types.CertificateDigest) {
	remaining := mapset.NewThreadUnsafeSet(missing...)
	for _, a := range s.comm.Authorities() {
		if a.ID == s.self || remaining.Cardinality() == 0 {
			continue
		}
		req := &rpc.GetCertificatesRequest{Digests: remaining.ToSlice()}
		var resp rpc.GetCertificatesResponse
		if err := s.transport.Call(ctx, a.PrimaryAddress, "GetCertificates", req, &resp); err != nil {
			continue
		}
		for _, c := range resp.Certificates {
			remaining.Remove(c.Digest())
			if _, err := s.acceptor.Accept(ctx, c, s.bus); err != nil {
				s.log.Warn("rejected fetched parent certificate", "digest", c.Digest(), "err", err)
			}
		}
	}
}
