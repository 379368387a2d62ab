// Package dag maintains the in-memory index of accepted certificates:
// {(round, author) -> digest} and {digest -> certificate} (§3, §4.6).
// It is the shared read model synchronizer, acceptor and Bullshark all
// consult; storage.CertificateTable/CertificateByRoundTable hold the
// durable copy. This index lives in memory only and is not reloaded from
// those tables: New starts it from the genesis certificates.
package dag

import (
	"sync"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/types"
)

// Dag is the in-memory certificate index. All methods are safe for
// concurrent use.
type Dag struct {
	mu sync.RWMutex

	// byRound[round][author] -> digest. A round slot is present only once
	// a certificate from that (round, author) pair has been accepted.
	byRound map[types.Round]map[types.AuthorityIdentifier]types.CertificateDigest

	// byDigest holds the full certificate body, keyed by its digest.
	byDigest map[types.CertificateDigest]*types.Certificate

	// gcRound is the highest round already evicted; rounds above it are
	// retained, as is genesis round 0 (§4.7 "GC horizon").
	gcRound types.Round
}

// New returns an empty Dag seeded with the committee's genesis
// certificates, so round 0 parents always resolve (§3 "genesis
// certificates are pre-accepted").
func New(comm *committee.Committee) *Dag {
	d := &Dag{
		byRound:  make(map[types.Round]map[types.AuthorityIdentifier]types.CertificateDigest),
		byDigest: make(map[types.CertificateDigest]*types.Certificate),
	}
	for _, a := range comm.Authorities() {
		cert := types.GenesisCertificate(a.ID, comm.Epoch())
		d.insertLocked(cert)
	}
	return d
}

func (d *Dag) insertLocked(cert *types.Certificate) {
	digest := cert.Digest()
	round := cert.Round()
	if _, ok := d.byRound[round]; !ok {
		d.byRound[round] = make(map[types.AuthorityIdentifier]types.CertificateDigest)
	}
	d.byRound[round][cert.Author()] = digest
	d.byDigest[digest] = cert
}

// Contains reports whether digest has already been accepted.
func (d *Dag) Contains(digest types.CertificateDigest) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byDigest[digest]
	return ok
}

// Get returns the certificate for digest, if accepted.
func (d *Dag) Get(digest types.CertificateDigest) (*types.Certificate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byDigest[digest]
	return c, ok
}

// ParentsPresent reports whether every parent digest named by cert has
// already been accepted — the acceptance precondition of §3 ("A
// certificate is accepted iff it is stored and all its parents are
// stored").
func (d *Dag) ParentsPresent(cert *types.Certificate) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, parent := range cert.Parents() {
		if _, ok := d.byDigest[parent]; !ok {
			return false
		}
	}
	return true
}

// MissingParents returns the subset of cert's parent digests not yet
// accepted, in no particular order. Used by the synchronizer to drive
// FetchCertificates (§4.6).
func (d *Dag) MissingParents(cert *types.Certificate) []types.CertificateDigest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var missing []types.CertificateDigest
	for _, parent := range cert.Parents() {
		if _, ok := d.byDigest[parent]; !ok {
			missing = append(missing, parent)
		}
	}
	return missing
}

// Insert records an already-verified, parent-complete certificate into
// the index.
func (d *Dag) Insert(cert *types.Certificate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertLocked(cert)
}

// RoundCertificates returns every certificate accepted at round r,
// keyed by author. The returned map is a copy, safe to range over
// without holding the lock.
func (d *Dag) RoundCertificates(r types.Round) map[types.AuthorityIdentifier]*types.Certificate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[types.AuthorityIdentifier]*types.Certificate)
	for author, digest := range d.byRound[r] {
		out[author] = d.byDigest[digest]
	}
	return out
}

// CertificateAt returns the certificate authored by author at round r,
// if one has been accepted.
func (d *Dag) CertificateAt(r types.Round, author types.AuthorityIdentifier) (*types.Certificate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	digest, ok := d.byRound[r][author]
	if !ok {
		return nil, false
	}
	return d.byDigest[digest], true
}

// HighestRound returns the highest round with at least one accepted
// certificate.
func (d *Dag) HighestRound() types.Round {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var max types.Round
	for r := range d.byRound {
		if r > max {
			max = r
		}
	}
	return max
}

// GarbageCollect discards every certificate at a round at or below
// newGCRound, matching §4.7's GC horizon advance. It never evicts round
// 0 (genesis), since parents at round 1 must still resolve after
// restart-free operation.
func (d *Dag) GarbageCollect(newGCRound types.Round) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if newGCRound <= d.gcRound {
		return
	}
	for r := d.gcRound + 1; r <= newGCRound; r++ {
		authors, ok := d.byRound[r]
		if !ok {
			continue
		}
		for _, digest := range authors {
			delete(d.byDigest, digest)
		}
		delete(d.byRound, r)
	}
	d.gcRound = newGCRound
}

// GCRound returns the current GC horizon.
func (d *Dag) GCRound() types.Round {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gcRound
}
