package address

import "testing"

func TestBuildScriptPubKey_P2PKH(t *testing.T) {
	script := BuildScriptPubKey("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if len(script) != 25 {
		t.Fatalf("expected 25-byte P2PKH script, got %d bytes", len(script))
	}
	if script[0] != opDup || script[1] != opHash160 || script[2] != opPushBytes20 {
		t.Errorf("unexpected P2PKH prefix: %x", script[:3])
	}
	if script[23] != opEqualVerify || script[24] != opCheckSig {
		t.Errorf("unexpected P2PKH suffix: %x", script[23:])
	}
}

func TestBuildScriptPubKey_Segwit(t *testing.T) {
	script := BuildScriptPubKey("BC1QW508D6QEJXTDG4Y5R3ZARVARY0C5XW7KV8F3T4")
	if len(script) != 22 {
		t.Fatalf("expected 22-byte v0 witness script, got %d bytes", len(script))
	}
	if script[0] != 0x00 || script[1] != 0x14 {
		t.Errorf("unexpected witness program prefix: %x", script[:2])
	}
}

func TestBuildScriptPubKey_NonStandardWitnessVersionFallsBackToOpReturn(t *testing.T) {
	// Same data as the BIP-173 v0/20B vector above, but with the witness
	// version symbol changed from 'q' (0) to 'z' (2). Still decodes
	// structurally (checksum is never validated), but v2+20B is not one of
	// the three standard program shapes and must fall back to OP_RETURN.
	script := BuildScriptPubKey("bc1zw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
	if len(script) != 1 || script[0] != opReturn {
		t.Errorf("expected single-byte OP_RETURN fallback for v2/20B program, got %x", script)
	}
}

func TestBuildScriptPubKey_MalformedFallsBackToOpReturn(t *testing.T) {
	script := BuildScriptPubKey("not a valid address at all")
	if len(script) != 1 || script[0] != opReturn {
		t.Errorf("expected single-byte OP_RETURN fallback, got %x", script)
	}
}

func TestSegwitVersionOpcode(t *testing.T) {
	if got := segwitVersionOpcode(0); got != 0x00 {
		t.Errorf("version 0 = %x, want 0x00", got)
	}
	if got := segwitVersionOpcode(1); got != 0x51 {
		t.Errorf("version 1 = %x, want 0x51", got)
	}
	if got := segwitVersionOpcode(16); got != 0x60 {
		t.Errorf("version 16 = %x, want 0x60", got)
	}
}
