// Package committee holds the static, per-epoch authority set: stakes,
// keys, addresses, and the deterministic leader-election and
// stake-threshold arithmetic every other component relies on.
package committee

import (
	"fmt"
	"sort"

	"github.com/telcoin-network/tn-consensus-core/bitmap"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/types"
)

// Committee is the fixed authority set for one epoch.
type Committee struct {
	epoch      types.Epoch
	authorities []types.Authority // indexed by AuthorityIdentifier
	totalStake  types.Stake
}

// NewCommittee builds a Committee from a genesis validator list. Validator
// entries must already be sorted by AuthorityIdentifier and dense
// (0..n-1), matching §6's "sorted list of ValidatorInfo".
func NewCommittee(epoch types.Epoch, authorities []types.Authority) (*Committee, error) {
	sorted := make([]types.Authority, len(authorities))
	copy(sorted, authorities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	var total types.Stake
	for i, a := range sorted {
		if int(a.ID) != i {
			return nil, fmt.Errorf("committee: authority ids must be dense 0..n-1, got gap at %d", i)
		}
		total += a.Stake
	}
	if total == 0 {
		return nil, fmt.Errorf("committee: total stake must be positive")
	}
	return &Committee{epoch: epoch, authorities: sorted, totalStake: total}, nil
}

// FromGenesis builds a Committee directly from genesis validator info,
// verifying every listed validator's proof-of-possession over the chain
// spec digest before admitting it — §6, the node refuses to start if this
// fails (§7 user-visible failure).
func FromGenesis(g *types.Genesis) (*Committee, error) {
	msg := g.ProofOfPossessionMessage()
	authorities := make([]types.Authority, 0, len(g.Validators))
	for _, v := range g.Validators {
		blsPub, err := crypto.BLSPublicKeyFromBytes(v.BLSPublicKey)
		if err != nil {
			return nil, fmt.Errorf("committee: authority %d: %w", v.AuthorityID, err)
		}
		netPub, err := crypto.NetworkPublicKeyFromBytes(v.NetworkPublicKey)
		if err != nil {
			return nil, fmt.Errorf("committee: authority %d: %w", v.AuthorityID, err)
		}
		sig, err := crypto.BLSSignatureFromBytes(v.ProofOfPossession)
		if err != nil {
			return nil, fmt.Errorf("committee: authority %d: invalid proof of possession encoding: %w", v.AuthorityID, err)
		}
		if !blsPub.Verify(msg, sig) {
			return nil, fmt.Errorf("committee: authority %d: proof of possession failed verification", v.AuthorityID)
		}
		authorities = append(authorities, types.Authority{
			ID:               v.AuthorityID,
			Stake:            v.Stake,
			ConsensusKey:     blsPub,
			NetworkKey:       netPub,
			PrimaryAddress:   v.PrimaryAddress,
			ExecutionAddress: v.ExecutionAddress,
		})
	}
	return NewCommittee(g.Epoch, authorities)
}

// Epoch returns the committee's fixed epoch.
func (c *Committee) Epoch() types.Epoch { return c.epoch }

// Size returns the number of authorities.
func (c *Committee) Size() int { return len(c.authorities) }

// TotalStake returns the sum of every authority's stake (3f+1).
func (c *Committee) TotalStake() types.Stake { return c.totalStake }

// ValidityThreshold returns f+1: the minimum stake that cannot be entirely
// Byzantine, used e.g. to detect "leader committed by ≥f+1 stake of
// votes".
func (c *Committee) ValidityThreshold() types.Stake {
	return (c.totalStake-1)/3 + 1
}

// QuorumThreshold returns 2f+1: the minimum stake required for
// certificates, parent sets, and commit support.
func (c *Committee) QuorumThreshold() types.Stake {
	return c.totalStake - (c.totalStake-1)/3
}

// Authority returns the authority for id, or false if out of range.
func (c *Committee) Authority(id types.AuthorityIdentifier) (types.Authority, bool) {
	if int(id) < 0 || int(id) >= len(c.authorities) {
		return types.Authority{}, false
	}
	return c.authorities[id], true
}

// Authorities returns every committee member in AuthorityIdentifier order.
func (c *Committee) Authorities() []types.Authority { return c.authorities }

// Contains reports whether id is a current committee member.
func (c *Committee) Contains(id types.AuthorityIdentifier) bool {
	_, ok := c.Authority(id)
	return ok
}

// StakeOf returns the stake of a set of authorities, ignoring duplicates
// and unknown ids.
func (c *Committee) StakeOf(ids []types.AuthorityIdentifier) types.Stake {
	seen := make(map[types.AuthorityIdentifier]bool, len(ids))
	var total types.Stake
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if a, ok := c.Authority(id); ok {
			total += a.Stake
		}
	}
	return total
}

// StakeOfBitmap sums the stake of every authority whose bit is set.
func (c *Committee) StakeOfBitmap(signers *bitmap.Bitmap) types.Stake {
	var total types.Stake
	for _, i := range signers.Indices() {
		if a, ok := c.Authority(types.AuthorityIdentifier(i)); ok {
			total += a.Stake
		}
	}
	return total
}

// HasQuorum reports whether ids' combined stake reaches 2f+1.
func (c *Committee) HasQuorum(ids []types.AuthorityIdentifier) bool {
	return c.StakeOf(ids) >= c.QuorumThreshold()
}

// Leader deterministically selects the committee member for round r,
// absent any reputation-based swap (the raw pseudo-random pick the
// LeaderSchedule starts from before swaps are applied). Every member is
// equally likely regardless of its stake. It is stable across all nodes
// given the same round and committee.
func (c *Committee) Leader(round types.Round) types.AuthorityIdentifier {
	if len(c.authorities) == 0 {
		return 0
	}
	// Deterministic selection seeded by the round number and the
	// committee's total stake, so every node derives the same sequence
	// without needing VRF-style randomness beacons (out of scope per
	// spec.md's non-goals around permissionless onboarding).
	h := crypto.Sum256(uint64Bytes(uint64(round)), uint64Bytes(uint64(c.totalStake)))
	idx := bytesToUint64(h[:8]) % uint64(len(c.authorities))
	return c.authorities[idx].ID
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
