package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// NetworkPrivateKey authenticates point-to-point RPC (primary↔primary,
// worker↔worker). It does not sign batch ACKs: those are BLS signatures
// made with the consensus key (worker.QuorumWaiter). It is deliberately a
// separate keypair from the BLS consensus key per §3.
//
// Ed25519 (stdlib crypto/ed25519) is used here rather than a pack library:
// none of the examples' dependency surface ships a transport-identity
// signature scheme distinct from their consensus signature scheme, and
// ed25519 is the standard choice for this exact role elsewhere in the
// ecosystem (see DESIGN.md).
type NetworkPrivateKey struct {
	key ed25519.PrivateKey
}

type NetworkPublicKey struct {
	key ed25519.PublicKey
}

func GenerateNetworkKey() (*NetworkPrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate network key: %w", err)
	}
	return &NetworkPrivateKey{key: priv}, nil
}

func (k *NetworkPrivateKey) Public() *NetworkPublicKey {
	return &NetworkPublicKey{key: k.key.Public().(ed25519.PublicKey)}
}

func (k *NetworkPrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.key, msg)
}

func (pk *NetworkPublicKey) Verify(msg, sig []byte) bool {
	if pk == nil || len(pk.key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pk.key, msg, sig)
}

func (pk *NetworkPublicKey) Bytes() []byte { return []byte(pk.key) }

func (pk *NetworkPublicKey) GobEncode() ([]byte, error) { return pk.Bytes(), nil }
func (pk *NetworkPublicKey) GobDecode(b []byte) error {
	parsed, err := NetworkPublicKeyFromBytes(b)
	if err != nil {
		return err
	}
	*pk = *parsed
	return nil
}

func NetworkPublicKeyFromBytes(b []byte) (*NetworkPublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("network public key: want %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return &NetworkPublicKey{key: ed25519.PublicKey(b)}, nil
}
