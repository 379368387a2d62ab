package types

import "github.com/telcoin-network/tn-consensus-core/crypto"

// ValidatorInfo is one entry in the per-epoch genesis file (§6): a
// committee member's keys, addresses, worker layout, and
// proof-of-possession.
type ValidatorInfo struct {
	AuthorityID          AuthorityIdentifier `yaml:"authority_id"`
	Stake                Stake               `yaml:"stake"`
	BLSPublicKey         []byte              `yaml:"bls_public_key"`
	NetworkPublicKey     []byte              `yaml:"network_public_key"`
	PrimaryAddress       string              `yaml:"primary_address"`
	ExecutionAddress     [20]byte            `yaml:"execution_address"`
	ProofOfPossession    []byte              `yaml:"proof_of_possession"`
	WorkerIndex          map[WorkerID]string `yaml:"worker_index"`
}

// Genesis is the static, per-epoch chain specification: the committee
// member list (sorted by AuthorityIdentifier) plus an opaque chain-spec
// payload handed to the execution layer.
type Genesis struct {
	Epoch      Epoch           `yaml:"epoch"`
	ChainSpec  []byte          `yaml:"chain_spec"`
	Validators []ValidatorInfo `yaml:"validators"`
}

// ChainSpecDigest hashes the chain spec payload; proof-of-possession
// signatures are produced over the intent-tagged form of this digest.
func (g *Genesis) ChainSpecDigest() crypto.Digest {
	return crypto.Sum256(g.ChainSpec)
}

// ProofOfPossessionMessage returns the intent-tagged message each
// validator's proof-of-possession signs: the chain spec digest, scoped to
// distinguish it from a header signature.
func (g *Genesis) ProofOfPossessionMessage() []byte {
	return crypto.ToIntentMessage(crypto.IntentProofOfPossession, g.ChainSpecDigest())
}
