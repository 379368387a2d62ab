package types

import (
	"fmt"

	"github.com/telcoin-network/tn-consensus-core/crypto"
)

// Stake is an authority's voting weight. The committee's total stake is
// always 3f+1 for some f; quorum is any subset summing to ≥2f+1.
type Stake uint64

// AuthorityIdentifier is the stable, dense, zero-based index of a
// committee member for the lifetime of an epoch. It is not the authority's
// public key — it is a short identifier used as a map key throughout the
// DAG and storage layers, matching the teacher's "index with meaning"
// convention for validator sets.
type AuthorityIdentifier uint16

func (a AuthorityIdentifier) String() string {
	return fmt.Sprintf("A%d", uint16(a))
}

// Authority is one committee member's static, per-epoch identity: its
// stake, its consensus (BLS) and network (Ed25519) public keys, and the
// addresses its primary and workers are reachable at.
type Authority struct {
	ID               AuthorityIdentifier
	Stake            Stake
	ConsensusKey     *crypto.BLSPublicKey
	NetworkKey       *crypto.NetworkPublicKey
	PrimaryAddress   string
	ExecutionAddress [20]byte
}
