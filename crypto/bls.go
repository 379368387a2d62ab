package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	bls12381 "github.com/kilic/bls12-381"
)

// BLSPrivateKey signs intent-tagged digests for consensus messages
// (headers via votes, and votes aggregated into certificates).
type BLSPrivateKey struct {
	scalar *bls12381.Fr
}

// BLSPublicKey is the G1 point corresponding to a BLSPrivateKey, used both
// individually (proof-of-possession) and aggregated (certificate
// verification against the committee's combined key).
type BLSPublicKey struct {
	point *bls12381.PointG1
}

// BLSSignature is a G2 point.
type BLSSignature struct {
	point *bls12381.PointG2
}

// GenerateBLSKey returns a fresh random BLS private key, for tests and
// genesis ceremony tooling.
func GenerateBLSKey() (*BLSPrivateKey, error) {
	fr, err := new(bls12381.Fr).Rand(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate bls key: %w", err)
	}
	return &BLSPrivateKey{scalar: fr}, nil
}

// Bytes serializes the private scalar, for writing to a node's key file.
func (k *BLSPrivateKey) Bytes() []byte {
	return k.scalar.ToBytes()
}

// BLSPrivateKeyFromBytes parses a private scalar previously written by
// Bytes, for loading a node's consensus key at startup.
func BLSPrivateKeyFromBytes(b []byte) (*BLSPrivateKey, error) {
	fr := new(bls12381.Fr).FromBytes(b)
	return &BLSPrivateKey{scalar: fr}, nil
}

// Public derives the public key for this private key.
func (k *BLSPrivateKey) Public() *BLSPublicKey {
	g1 := bls12381.NewG1()
	p := g1.One()
	g1.MulScalar(p, p, k.scalar)
	return &BLSPublicKey{point: p}
}

// Sign produces a BLS signature over msg (the caller is responsible for
// intent-tagging msg before calling Sign; see ToIntentMessage).
func (k *BLSPrivateKey) Sign(msg []byte) *BLSSignature {
	g2 := bls12381.NewG2()
	hp := g2.New()
	g2.MapToCurve(hp, msg)
	g2.MulScalar(hp, hp, k.scalar)
	return &BLSSignature{point: hp}
}

// Verify checks sig over msg against this public key.
func (pk *BLSPublicKey) Verify(msg []byte, sig *BLSSignature) bool {
	if pk == nil || pk.point == nil || sig == nil || sig.point == nil {
		return false
	}
	g1, g2 := bls12381.NewG1(), bls12381.NewG2()
	hp := g2.New()
	g2.MapToCurve(hp, msg)

	negG1 := g1.One()
	g1.Neg(negG1, negG1)

	engine := bls12381.NewEngine()
	engine.AddPair(negG1, hp)
	engine.AddPair(pk.point, sig.point)
	return engine.Check()
}

// Bytes serializes the public key in compressed G1 form.
func (pk *BLSPublicKey) Bytes() []byte {
	g1 := bls12381.NewG1()
	return g1.ToCompressed(pk.point)
}

// BLSPublicKeyFromBytes parses a compressed G1 public key.
func BLSPublicKeyFromBytes(b []byte) (*BLSPublicKey, error) {
	g1 := bls12381.NewG1()
	p, err := g1.FromCompressed(b)
	if err != nil {
		return nil, fmt.Errorf("parse bls public key: %w", err)
	}
	return &BLSPublicKey{point: p}, nil
}

// Bytes serializes the signature in compressed G2 form.
func (s *BLSSignature) Bytes() []byte {
	g2 := bls12381.NewG2()
	return g2.ToCompressed(s.point)
}

// BLSSignatureFromBytes parses a compressed G2 signature.
func BLSSignatureFromBytes(b []byte) (*BLSSignature, error) {
	g2 := bls12381.NewG2()
	p, err := g2.FromCompressed(b)
	if err != nil {
		return nil, fmt.Errorf("parse bls signature: %w", err)
	}
	return &BLSSignature{point: p}, nil
}

// GobEncode/GobDecode let BLSPublicKey participate directly in gob-encoded
// structs (headers, votes, certificates) without every caller having to
// thread Bytes()/FromBytes through manually.
func (pk *BLSPublicKey) GobEncode() ([]byte, error) { return pk.Bytes(), nil }
func (pk *BLSPublicKey) GobDecode(b []byte) error {
	parsed, err := BLSPublicKeyFromBytes(b)
	if err != nil {
		return err
	}
	*pk = *parsed
	return nil
}

func (s *BLSSignature) GobEncode() ([]byte, error) { return s.Bytes(), nil }
func (s *BLSSignature) GobDecode(b []byte) error {
	parsed, err := BLSSignatureFromBytes(b)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// AggregateSignatures sums signatures into a single BLS aggregate
// signature, used when a certifier reaches ≥2f+1 votes over a header
// digest.
func AggregateSignatures(sigs []*BLSSignature) (*BLSSignature, error) {
	if len(sigs) == 0 {
		return nil, errors.New("aggregate: empty signature set")
	}
	g2 := bls12381.NewG2()
	acc := g2.Zero()
	for _, s := range sigs {
		if s == nil || s.point == nil {
			return nil, errors.New("aggregate: nil signature")
		}
		g2.Add(acc, acc, s.point)
	}
	return &BLSSignature{point: acc}, nil
}

// AggregatePublicKeys sums public keys into a combined public key, used to
// verify a certificate's aggregated signature against exactly the set of
// signers marked in its bitmap.
func AggregatePublicKeys(keys []*BLSPublicKey) (*BLSPublicKey, error) {
	if len(keys) == 0 {
		return nil, errors.New("aggregate: empty key set")
	}
	g1 := bls12381.NewG1()
	acc := g1.Zero()
	for _, k := range keys {
		if k == nil || k.point == nil {
			return nil, errors.New("aggregate: nil key")
		}
		g1.Add(acc, acc, k.point)
	}
	return &BLSPublicKey{point: acc}, nil
}
