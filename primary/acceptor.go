package primary

import (
	"context"
	"sync"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/dag"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// Acceptor admits peer certificates into the DAG: verifying the
// aggregated signature and stake threshold, and suspending a certificate
// whose parents are not yet known until they arrive (§4.6 "Accept(cert)").
type Acceptor struct {
	mu sync.Mutex

	epoch types.Epoch
	comm  *committee.Committee
	d     *dag.Dag
	certs *storage.CertificateTable
	byRound *storage.CertificateByRoundTable
	byOrigin *storage.CertificateByOriginTable

	// suspended maps a missing parent digest to every certificate waiting
	// on it.
	suspended map[types.CertificateDigest][]*types.Certificate

	log *xlog.Logger
}

// NewAcceptor constructs an Acceptor.
func NewAcceptor(epoch types.Epoch, comm *committee.Committee, d *dag.Dag, certs *storage.CertificateTable, byRound *storage.CertificateByRoundTable, byOrigin *storage.CertificateByOriginTable) *Acceptor {
	return &Acceptor{
		epoch: epoch, comm: comm, d: d, certs: certs, byRound: byRound, byOrigin: byOrigin,
		suspended: make(map[types.CertificateDigest][]*types.Certificate),
		log:       xlog.New("primary.acceptor"),
	}
}

// Accept verifies cert and either admits it immediately (emitting it on
// bus.AcceptedCertificates and bus.ParentCertificates) or suspends it
// until its missing parents arrive, returning the missing parent digests
// for the caller (typically the synchronizer) to fetch.
func (a *Acceptor) Accept(ctx context.Context, cert *types.Certificate, bus *eventbus.ConsensusBus) ([]types.CertificateDigest, error) {
	if cert.Header.Epoch != a.epoch {
		return nil, types.NewError(types.KindValidation, "acceptor: wrong epoch", nil)
	}
	if cert.Round() != types.GenesisRound {
		if err := a.verifySignature(cert); err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	missing := a.d.MissingParents(cert)
	if len(missing) > 0 {
		for _, m := range missing {
			a.suspended[m] = append(a.suspended[m], cert)
		}
		a.mu.Unlock()
		return missing, nil
	}
	a.mu.Unlock()

	a.admit(cert, bus)
	return nil, nil
}

func (a *Acceptor) verifySignature(cert *types.Certificate) error {
	var keys []*crypto.BLSPublicKey
	var stake types.Stake
	for _, i := range cert.Signers.Indices() {
		auth, ok := a.comm.Authority(types.AuthorityIdentifier(i))
		if !ok {
			return types.NewError(types.KindValidation, "acceptor: signer not in committee", nil)
		}
		keys = append(keys, auth.ConsensusKey)
		stake += auth.Stake
	}
	if stake < a.comm.QuorumThreshold() {
		return types.NewError(types.KindValidation, "acceptor: insufficient signer stake", nil)
	}
	combined, err := crypto.AggregatePublicKeys(keys)
	if err != nil {
		return types.NewError(types.KindValidation, "acceptor: aggregate keys", err)
	}
	msg := cert.Header.SigningMessage()
	if !combined.Verify(msg, cert.AggregatedSignature) {
		return types.NewError(types.KindValidation, "acceptor: aggregated signature invalid", nil)
	}
	return nil
}

// admit persists and indexes cert, then resumes any certificate that was
// waiting on it.
func (a *Acceptor) admit(cert *types.Certificate, bus *eventbus.ConsensusBus) {
	digest := cert.Digest()
	if err := a.certs.Put(cert); err != nil {
		a.log.Error("persist certificate failed", "digest", digest, "err", err)
		return
	}
	if err := a.byRound.Put(cert.Round(), cert.Author(), digest); err != nil {
		a.log.Error("persist certificate-by-round failed", "digest", digest, "err", err)
	}
	if err := a.byOrigin.Put(cert.Author(), cert.Round(), digest); err != nil {
		a.log.Error("persist certificate-by-origin failed", "digest", digest, "err", err)
	}
	a.d.Insert(cert)

	bus.AcceptedCertificates <- cert
	select {
	case bus.ParentCertificates <- cert:
	default:
	}

	a.mu.Lock()
	waiters := a.suspended[digest]
	delete(a.suspended, digest)
	a.mu.Unlock()
	for _, waiter := range waiters {
		if a.d.ParentsPresent(waiter) {
			a.admit(waiter, bus)
		}
	}
}
