package bitcoin

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"
)

func TestDoubleSHA256(t *testing.T) {
	// SHA256d("") is a well-known test vector.
	got := DoubleSHA256([]byte{})
	want, err := hex.DecodeString("5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456")
	if err != nil {
		t.Fatalf("bad test vector: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("DoubleSHA256(\"\") = %x, want %x", got, want)
	}
}

func TestReverseBytes(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03, 0x04}
	got := ReverseBytes(in)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("ReverseBytes(%v) = %v, want %v", in, got, want)
	}
	// original must not be mutated
	if !bytes.Equal(in, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("ReverseBytes mutated its input")
	}
}

func TestSwapWords32(t *testing.T) {
	in := make([]byte, 32)
	for i := range in {
		in[i] = byte(i)
	}
	got := SwapWords32(in)
	if len(got) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(got))
	}
	// first word [0,1,2,3] should become [3,2,1,0]
	want := []byte{3, 2, 1, 0}
	if !bytes.Equal(got[:4], want) {
		t.Errorf("first word = %v, want %v", got[:4], want)
	}
}

func TestSwapWords32_WrongSize(t *testing.T) {
	in := []byte{1, 2, 3}
	got := SwapWords32(in)
	if !bytes.Equal(got, in) {
		t.Errorf("expected input returned unchanged for non-32-byte input")
	}
}

func TestHashToBig_ReversesBytes(t *testing.T) {
	hash := make([]byte, 32)
	hash[31] = 0x01 // last byte set, internal order
	got := HashToBig(hash)
	if got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("HashToBig = %v, want 1", got)
	}
}

func TestCompactToBigRoundTrip(t *testing.T) {
	bits := uint32(0x1d00ffff)
	target := CompactToBig(bits)
	back := BigToCompact(target)
	if back != bits {
		t.Errorf("round trip = %x, want %x", back, bits)
	}
}

func TestDiff1Target(t *testing.T) {
	target := Diff1Target()
	want := new(big.Int).Lsh(big.NewInt(0xFFFF), 208)
	if target.Cmp(want) != 0 {
		t.Errorf("Diff1Target = %x, want %x", target, want)
	}
}

func TestDifficultyToTargetAndBack(t *testing.T) {
	target := DifficultyToTarget(1.0)
	if target.Cmp(Diff1Target()) != 0 {
		t.Errorf("DifficultyToTarget(1.0) = %x, want diff1Target %x", target, Diff1Target())
	}

	diff := TargetToDifficulty(target)
	if diff < 0.999 || diff > 1.001 {
		t.Errorf("TargetToDifficulty round trip = %f, want ~1.0", diff)
	}
}

func TestDifficultyToTarget_NonPositive(t *testing.T) {
	target := DifficultyToTarget(0)
	if target.Cmp(Diff1Target()) != 0 {
		t.Errorf("DifficultyToTarget(0) should fall back to difficulty 1")
	}
}

func TestTargetToDifficulty_NilOrZero(t *testing.T) {
	if d := TargetToDifficulty(nil); d != 0 {
		t.Errorf("TargetToDifficulty(nil) = %f, want 0", d)
	}
	if d := TargetToDifficulty(big.NewInt(0)); d != 0 {
		t.Errorf("TargetToDifficulty(0) = %f, want 0", d)
	}
}

func TestShareDifficulty_HigherDiffForSmallerHash(t *testing.T) {
	smallHash := make([]byte, 32)
	smallHash[0] = 0x01 // reversed -> least significant byte, so the integer is 1

	largeHash := make([]byte, 32)
	for i := range largeHash {
		largeHash[i] = 0xff
	}

	smallDiff := ShareDifficulty(smallHash)
	largeDiff := ShareDifficulty(largeHash)

	if smallDiff.Cmp(largeDiff) <= 0 {
		t.Errorf("expected smaller hash to score a higher difficulty: small=%v large=%v", smallDiff, largeDiff)
	}
}

func TestHashMeetsTarget(t *testing.T) {
	hash := make([]byte, 32) // all zero -> HashToBig is 0, meets any non-negative target
	target := big.NewInt(100)
	if !HashMeetsTarget(hash, target) {
		t.Errorf("expected zero hash to meet any target")
	}
}

func TestMeetsDifficulty_NilDifficultyAlwaysPasses(t *testing.T) {
	hash := make([]byte, 32)
	if !MeetsDifficulty(hash, nil) {
		t.Errorf("expected nil difficulty to always pass")
	}
}
