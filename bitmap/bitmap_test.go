package bitmap

import (
	"math/bits"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBitmap(17)
	for _, i := range []int{0, 1, 4, 5, 6, 16} {
		b.Set(i)
	}
	enc := b.Encode()
	decoded, err := Decode(enc, b.Len())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := 0; i < b.Len(); i++ {
		if b.Get(i) != decoded.Get(i) {
			t.Fatalf("bit %d mismatch: want %v got %v", i, b.Get(i), decoded.Get(i))
		}
	}
}

func TestSetBoundsGetBoundsRoundTrip(t *testing.T) {
	positions := map[int]struct{}{2: {}, 3: {}, 9: {}}
	b := SetBounds(10, positions)
	got := b.GetBounds()
	if len(got) != len(positions) {
		t.Fatalf("want %d positions, got %d", len(positions), len(got))
	}
	for k := range positions {
		if _, ok := got[k]; !ok {
			t.Fatalf("missing position %d", k)
		}
	}
}

func TestGobRoundTrip(t *testing.T) {
	b := NewBitmap(40)
	b.Set(3)
	b.Set(39)
	encoded, err := b.GobEncode()
	if err != nil {
		t.Fatalf("gob encode: %v", err)
	}
	var out Bitmap
	if err := out.GobDecode(encoded); err != nil {
		t.Fatalf("gob decode: %v", err)
	}
	if out.Len() != b.Len() {
		t.Fatalf("want len %d, got %d", b.Len(), out.Len())
	}
	if !out.Get(3) || !out.Get(39) || out.Get(4) {
		t.Fatalf("round-tripped bits incorrect: indices=%v", out.Indices())
	}
}

func TestClearAndGetOutOfRange(t *testing.T) {
	b := NewBitmap(4)
	b.Set(1)
	b.Clear(1)
	if b.Get(1) {
		t.Fatalf("expected bit 1 cleared")
	}
	if b.Get(100) {
		t.Fatalf("out-of-range Get must return false, not panic")
	}
}

func TestEncodeAllZeroIsShort(t *testing.T) {
	b := NewBitmap(1000)
	enc := b.Encode()
	// An all-zero bitmap is a single run, far shorter than the bit count.
	if len(enc) > bits.Len(1000) {
		t.Fatalf("expected compact encoding of all-zero bitmap, got %d bytes", len(enc))
	}
}
