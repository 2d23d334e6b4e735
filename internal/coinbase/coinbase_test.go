package coinbase

import (
	"bytes"
	"testing"

	"github.com/wernerpool/stratum/internal/bitcoin"
)

func testParams() Params {
	return Params{
		Height:            800000,
		Value:             625000000,
		PayoutAddress:     "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		PoolTag:           []byte("wernerpool"),
		Extranonce1Size:   4,
		Extranonce2Size:   4,
		WitnessCommitment: bytes.Repeat([]byte{0xab}, 32),
	}
}

func TestBuildHalves_ConcatenationHashesAsValidCoinbase(t *testing.T) {
	p := testParams()
	halves := BuildHalves(p)

	extranonce1 := bytes.Repeat([]byte{0x11}, p.Extranonce1Size)
	extranonce2 := bytes.Repeat([]byte{0x22}, p.Extranonce2Size)

	full := append([]byte{}, halves.Coinbase1...)
	full = append(full, extranonce1...)
	full = append(full, extranonce2...)
	full = append(full, halves.Coinbase2...)

	// Non-witness coinbase must hash to something; just confirm it's well formed
	// enough to double-SHA256 without panic and is non-empty.
	if len(full) == 0 {
		t.Fatal("expected non-empty serialized coinbase")
	}
	hash := bitcoin.DoubleSHA256(full)
	if len(hash) != 32 {
		t.Errorf("expected 32-byte txid, got %d", len(hash))
	}

	// version field (first 4 bytes) must be little-endian 2.
	if full[0] != 0x02 || full[1] != 0 || full[2] != 0 || full[3] != 0 {
		t.Errorf("unexpected version bytes: %x", full[:4])
	}
}

func TestBuildHalves_ScriptSigLengthMatchesExtranonceSlots(t *testing.T) {
	p := testParams()
	halves := BuildHalves(p)

	// coinbase1 ends right before the scriptSig length is consumed by the
	// extranonce placeholder; reconstruct scriptSig length from the varint
	// preceding the script bytes we know we appended (height push + pool tag).
	heightPush := EncodeHeight(p.Height)
	expectedPrefixLen := len(heightPush) + len(p.PoolTag)
	expectedScriptSigLen := expectedPrefixLen + p.Extranonce1Size + p.Extranonce2Size

	// varInt(n) for n < 0xfd is a single byte.
	wantVarInt := varInt(uint64(expectedScriptSigLen))
	if !bytes.Contains(halves.Coinbase1, wantVarInt) {
		t.Errorf("expected coinbase1 to contain scriptSig length varint %x", wantVarInt)
	}
}

func TestBuildFull_SegwitMarkerAndWitnessStack(t *testing.T) {
	p := testParams()
	extranonce1 := bytes.Repeat([]byte{0x11}, p.Extranonce1Size)
	extranonce2 := bytes.Repeat([]byte{0x22}, p.Extranonce2Size)

	tx := BuildFull(p, extranonce1, extranonce2)

	if tx[4] != 0x00 || tx[5] != 0x01 {
		t.Errorf("expected segwit marker+flag at offset 4, got %x", tx[4:6])
	}
	// The witness stack sits just before the 4-byte locktime: a stack-item
	// count of 0x01, a push length of 0x20, then the 32-byte reserved value.
	wantWitness := append([]byte{0x01, 0x20}, WitnessReservedValue...)
	if !bytes.Equal(tx[len(tx)-4-len(wantWitness):len(tx)-4], wantWitness) {
		t.Error("expected witness reserved value present in full coinbase")
	}
}

func TestBuildFull_NoSegwitWhenNoCommitment(t *testing.T) {
	p := testParams()
	p.WitnessCommitment = nil
	extranonce1 := bytes.Repeat([]byte{0x11}, p.Extranonce1Size)
	extranonce2 := bytes.Repeat([]byte{0x22}, p.Extranonce2Size)

	tx := BuildFull(p, extranonce1, extranonce2)
	if tx[4] == 0x00 && tx[5] == 0x01 {
		t.Error("did not expect segwit marker when WitnessCommitment is absent")
	}
}

func TestEncodeHeight_SmallAndLarge(t *testing.T) {
	small := EncodeHeight(10)
	if len(small) != 1 || small[0] != 0x50+10 {
		t.Errorf("EncodeHeight(10) = %x, want single minimal push", small)
	}

	large := EncodeHeight(800000)
	if len(large) < 2 {
		t.Fatalf("EncodeHeight(800000) too short: %x", large)
	}
	if int(large[0]) != len(large)-1 {
		t.Errorf("EncodeHeight length prefix = %d, want %d", large[0], len(large)-1)
	}
}

func TestEncodeHeight_HighBitPaddedWithZero(t *testing.T) {
	// 128 in little-endian single byte would have its top bit set.
	got := EncodeHeight(128)
	if got[0] != 2 {
		t.Fatalf("expected 2-byte push for height 128, got length prefix %d", got[0])
	}
	if got[len(got)-1] != 0x00 {
		t.Errorf("expected trailing zero byte to avoid negative script number, got %x", got)
	}
}

func TestVarInt_Ranges(t *testing.T) {
	if got := VarInt(1); len(got) != 1 {
		t.Errorf("VarInt(1) length = %d, want 1", len(got))
	}
	if got := VarInt(0x10000); len(got) != 5 || got[0] != 0xfe {
		t.Errorf("VarInt(0x10000) = %x, want 5-byte 0xfe-prefixed", got)
	}
	if got := VarInt(0x100000000); len(got) != 9 || got[0] != 0xff {
		t.Errorf("VarInt(0x100000000) = %x, want 9-byte 0xff-prefixed", got)
	}
}
