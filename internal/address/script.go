// Package address turns a miner-supplied payout address string into a
// scriptPubKey for the coinbase output, without validating address
// checksums: a structurally undecodable address falls back to an
// OP_RETURN output rather than aborting job construction.
package address

const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opEqual       = 0x87
	opReturn      = 0x6a
	opPushBytes20 = 0x14
	opPushBytes32 = 0x20

	mainnetP2PKHVersion = 0x00
	mainnetP2SHVersion  = 0x05
)

// BuildScriptPubKey converts a payout address into its scriptPubKey bytes.
// It tries Bech32/Bech32m segwit decode first (only the three standard
// witness version/program combinations: v0+20B P2WPKH, v0+32B P2WSH, and
// v1+32B P2TR — any other version/length decodes structurally but is not a
// real Bitcoin address format and is rejected), then legacy Base58Check
// P2PKH/P2SH, and finally falls back to a harmless OP_RETURN output so a
// malformed address never blocks job construction — the pool still
// publishes a valid block, it simply can't be redeemed by the submitter in
// that pathological case.
func BuildScriptPubKey(addr string) []byte {
	if version, program, ok := DecodeSegwitAddress(addr); ok && isStandardWitnessProgram(version, len(program)) {
		script := make([]byte, 0, 2+len(program))
		script = append(script, segwitVersionOpcode(version))
		script = append(script, byte(len(program)))
		script = append(script, program...)
		return script
	}

	if version, payload, ok := DecodeBase58Check(addr); ok && len(payload) == 20 {
		switch version {
		case mainnetP2SHVersion, 0xc4: // mainnet/testnet P2SH
			script := make([]byte, 0, 23)
			script = append(script, opHash160, opPushBytes20)
			script = append(script, payload...)
			script = append(script, opEqual)
			return script
		default: // treat anything else 20-byte as P2PKH (0x00 mainnet, 0x6f testnet)
			script := make([]byte, 0, 25)
			script = append(script, opDup, opHash160, opPushBytes20)
			script = append(script, payload...)
			script = append(script, opEqualVerify, opCheckSig)
			return script
		}
	}

	return []byte{opReturn}
}

// isStandardWitnessProgram reports whether version/length is one of the
// three program shapes Bitcoin consensus actually assigns meaning to:
// v0 P2WPKH (20B), v0 P2WSH (32B), or v1 P2TR (32B). Every other
// combination decodes fine as bech32 but isn't a spendable address format.
func isStandardWitnessProgram(version byte, length int) bool {
	switch {
	case version == 0:
		return length == 20 || length == 32
	case version == 1:
		return length == 32
	default:
		return false
	}
}

// segwitVersionOpcode maps a witness version (0-16) to its script opcode:
// version 0 pushes OP_0 (0x00), versions 1-16 push OP_1..OP_16 (0x51-0x60).
func segwitVersionOpcode(version byte) byte {
	if version == 0 {
		return 0x00
	}
	if version >= 1 && version <= 16 {
		return 0x50 + version
	}
	return 0x00
}
