package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateBLSKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := ToIntentMessage(IntentHeader, Sum256([]byte("hello")))
	sig := priv.Sign(msg)
	if !priv.Public().Verify(msg, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	priv, err := GenerateBLSKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	sig := priv.Sign(ToIntentMessage(IntentHeader, Sum256([]byte("a"))))
	if priv.Public().Verify(ToIntentMessage(IntentHeader, Sum256([]byte("b"))), sig) {
		t.Fatalf("expected verification to fail for a different message")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv1, _ := GenerateBLSKey()
	priv2, _ := GenerateBLSKey()
	msg := ToIntentMessage(IntentBatchAck, Sum256([]byte("batch")))
	sig := priv1.Sign(msg)
	if priv2.Public().Verify(msg, sig) {
		t.Fatalf("expected verification against the wrong public key to fail")
	}
}

func TestAggregateSignaturesVerifyAgainstAggregatePublicKey(t *testing.T) {
	msg := ToIntentMessage(IntentHeader, Sum256([]byte("round-7")))
	var sigs []*BLSSignature
	var pubs []*BLSPublicKey
	for i := 0; i < 4; i++ {
		priv, err := GenerateBLSKey()
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		sigs = append(sigs, priv.Sign(msg))
		pubs = append(pubs, priv.Public())
	}
	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("aggregate signatures: %v", err)
	}
	aggPub, err := AggregatePublicKeys(pubs)
	if err != nil {
		t.Fatalf("aggregate public keys: %v", err)
	}
	if !aggPub.Verify(msg, aggSig) {
		t.Fatalf("expected aggregate signature to verify against aggregate public key")
	}
}

func TestAggregateEmptyFails(t *testing.T) {
	if _, err := AggregateSignatures(nil); err == nil {
		t.Fatalf("expected error aggregating zero signatures")
	}
	if _, err := AggregatePublicKeys(nil); err == nil {
		t.Fatalf("expected error aggregating zero public keys")
	}
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	priv, _ := GenerateBLSKey()
	pub := priv.Public()
	parsed, err := BLSPublicKeyFromBytes(pub.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msg := ToIntentMessage(IntentHeader, Sum256([]byte("x")))
	if !parsed.Verify(msg, priv.Sign(msg)) {
		t.Fatalf("expected parsed public key to verify signatures")
	}
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	priv, _ := GenerateBLSKey()
	parsed, err := BLSPrivateKeyFromBytes(priv.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msg := ToIntentMessage(IntentHeader, Sum256([]byte("y")))
	sig := parsed.Sign(msg)
	if !priv.Public().Verify(msg, sig) {
		t.Fatalf("expected signature from round-tripped key to verify against original public key")
	}
}

func TestNetworkKeySignVerify(t *testing.T) {
	priv, err := GenerateNetworkKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("rpc-envelope")
	sig := priv.Sign(msg)
	if !priv.Public().Verify(msg, sig) {
		t.Fatalf("expected network key signature to verify")
	}
	if priv.Public().Verify([]byte("tampered"), sig) {
		t.Fatalf("expected verification to fail for tampered message")
	}
}
