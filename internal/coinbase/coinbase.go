// Package coinbase builds the pool's coinbase transaction: the two halves
// sent to miners in mining.notify (coinbase1/coinbase2, split around the
// extranonce1+extranonce2 placeholder) and the fully assembled, witness-
// bearing transaction used when a share solves the block.
package coinbase

import (
	"encoding/binary"
	"fmt"

	"github.com/wernerpool/stratum/internal/address"
)

// WitnessReservedValue is the all-zero 32-byte value BIP-141 requires in the
// coinbase's witness stack alongside the commitment output.
var WitnessReservedValue = make([]byte, 32)

// segwitCommitmentHeader is the fixed OP_RETURN push prefix (BIP-141) that
// precedes a 32-byte witness commitment in the coinbase's last output.
var segwitCommitmentHeader = []byte{0x6a, 0x24, 0xaa, 0x21, 0xa9, 0xed}

// Params holds everything needed to build a block's coinbase transaction.
// WitnessCommitment is the 32-byte value the Merkle engine (internal/merkle)
// computed for this job; it is stable for the job's lifetime and identical
// across every session's coinbase, since it doesn't depend on the payout
// address.
type Params struct {
	Height            int64
	Value             uint64 // total coinbase payout, satoshis (reward + fees)
	PayoutAddress     string
	PoolTag           []byte // arbitrary pool-identifying bytes in scriptSig
	Extranonce1Size   int
	Extranonce2Size   int
	WitnessCommitment []byte // nil if the block carries no segwit transaction
}

// Halves is the coinbase1/coinbase2 split a mining.notify message sends:
// the miner concatenates coinbase1 || extranonce1 || extranonce2 ||
// coinbase2 and hashes the result as the (non-witness) coinbase txid for
// the Merkle branch fold.
type Halves struct {
	Coinbase1 []byte
	Coinbase2 []byte
}

// BuildHalves constructs the coinbase1/coinbase2 split for mining.notify.
func BuildHalves(p Params) Halves {
	scriptSig := buildScriptSigPrefix(p.Height, p.PoolTag)
	extranonceSize := p.Extranonce1Size + p.Extranonce2Size
	scriptSigLen := len(scriptSig) + extranonceSize

	coinbase1 := make([]byte, 0, 4+1+36+4+1+len(scriptSig))
	coinbase1 = append(coinbase1, le32(2)...)       // version (spec: coinbase is always tx version 2)
	coinbase1 = append(coinbase1, 0x01)             // input count
	coinbase1 = append(coinbase1, make([]byte, 32)...) // prevout hash: null
	coinbase1 = append(coinbase1, 0xff, 0xff, 0xff, 0xff) // prevout index
	coinbase1 = append(coinbase1, varInt(uint64(scriptSigLen))...)
	coinbase1 = append(coinbase1, scriptSig...)

	coinbase2 := buildCoinbase2(p)

	return Halves{Coinbase1: coinbase1, Coinbase2: coinbase2}
}

// buildCoinbase2 builds everything after the extranonce placeholder:
// sequence, outputs, locktime. Used by BuildHalves; BuildFull uses
// buildCoinbase2WithoutLocktime instead.
func buildCoinbase2(p Params) []byte {
	outputs := buildOutputs(p)

	coinbase2 := make([]byte, 0, 4+1+len(outputs)+4)
	coinbase2 = append(coinbase2, 0xff, 0xff, 0xff, 0xff) // sequence
	coinbase2 = append(coinbase2, varInt(uint64(len(outputs)))...)
	for _, out := range outputs {
		coinbase2 = append(coinbase2, out...)
	}
	coinbase2 = append(coinbase2, le32(0)...) // locktime
	return coinbase2
}

// buildOutputs builds the coinbase's serialized outputs: the payout output,
// followed by the witness-commitment OP_RETURN output when the block
// contains any segwit transaction.
func buildOutputs(p Params) [][]byte {
	var outputs [][]byte

	payoutScript := address.BuildScriptPubKey(p.PayoutAddress)
	payout := make([]byte, 0, 8+9+len(payoutScript))
	payout = append(payout, le64(p.Value)...)
	payout = append(payout, varInt(uint64(len(payoutScript)))...)
	payout = append(payout, payoutScript...)
	outputs = append(outputs, payout)

	if len(p.WitnessCommitment) == 32 {
		script := make([]byte, 0, len(segwitCommitmentHeader)+32)
		script = append(script, segwitCommitmentHeader...)
		script = append(script, p.WitnessCommitment...)

		commitOut := make([]byte, 0, 8+9+len(script))
		commitOut = append(commitOut, le64(0)...)
		commitOut = append(commitOut, varInt(uint64(len(script)))...)
		commitOut = append(commitOut, script...)
		outputs = append(outputs, commitOut)
	}

	return outputs
}

// buildScriptSigPrefix builds the scriptSig bytes that precede the
// extranonce placeholder: the BIP-34 height push followed by the pool tag.
func buildScriptSigPrefix(height int64, poolTag []byte) []byte {
	heightPush := EncodeHeight(height)
	script := make([]byte, 0, len(heightPush)+len(poolTag))
	script = append(script, heightPush...)
	script = append(script, poolTag...)
	return script
}

// EncodeHeight encodes a block height per BIP-34: heights below 17 are a
// single minimal-push opcode (OP_1..OP_16 equivalents via 0x50+h), all
// others are a length-prefixed little-endian push, with an extra trailing
// zero byte when the most significant byte's top bit is set (so the value
// is never misread as a negative script number).
func EncodeHeight(height int64) []byte {
	if height < 17 {
		return []byte{byte(0x50 + height)}
	}

	var buf []byte
	h := height
	for h > 0 {
		buf = append(buf, byte(h&0xff))
		h >>= 8
	}
	if buf[len(buf)-1]&0x80 != 0 {
		buf = append(buf, 0x00)
	}

	result := make([]byte, 0, 1+len(buf))
	result = append(result, byte(len(buf)))
	result = append(result, buf...)
	return result
}

// BuildFull assembles the complete, witness-bearing coinbase transaction
// for inclusion in a submitted block, given the extranonce1/extranonce2
// values a winning share carried.
func BuildFull(p Params, extranonce1, extranonce2 []byte) []byte {
	hasSegwit := len(p.WitnessCommitment) == 32

	tx := make([]byte, 0, 256)
	tx = append(tx, le32(2)...) // version (spec: coinbase is always tx version 2)
	if hasSegwit {
		tx = append(tx, 0x00, 0x01) // segwit marker + flag
	}
	tx = append(tx, 0x01)                 // input count
	tx = append(tx, make([]byte, 32)...)  // prevout hash
	tx = append(tx, 0xff, 0xff, 0xff, 0xff) // prevout index

	scriptSigPrefix := buildScriptSigPrefix(p.Height, p.PoolTag)
	scriptSig := make([]byte, 0, len(scriptSigPrefix)+len(extranonce1)+len(extranonce2))
	scriptSig = append(scriptSig, scriptSigPrefix...)
	scriptSig = append(scriptSig, extranonce1...)
	scriptSig = append(scriptSig, extranonce2...)

	tx = append(tx, varInt(uint64(len(scriptSig)))...)
	tx = append(tx, scriptSig...)
	tx = append(tx, buildCoinbase2WithoutLocktime(p)...)

	if hasSegwit {
		tx = append(tx, 0x01) // one witness stack item
		tx = append(tx, varInt(uint64(len(WitnessReservedValue)))...)
		tx = append(tx, WitnessReservedValue...)
	}

	tx = append(tx, le32(0)...) // locktime
	return tx
}

// buildCoinbase2WithoutLocktime returns sequence+outputs (no locktime), so
// BuildFull can splice in the witness stack between outputs and locktime.
func buildCoinbase2WithoutLocktime(p Params) []byte {
	outputs := buildOutputs(p)
	buf := make([]byte, 0, 4+1+len(outputs))
	buf = append(buf, 0xff, 0xff, 0xff, 0xff)
	buf = append(buf, varInt(uint64(len(outputs)))...)
	for _, out := range outputs {
		buf = append(buf, out...)
	}
	return buf
}

func le32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func le64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// VarInt encodes a Bitcoin CompactSize integer, exported for block assembly
// (the transaction-count prefix ahead of the serialized transaction list).
func VarInt(v uint64) []byte {
	return varInt(v)
}

// varInt encodes a Bitcoin CompactSize integer.
func varInt(v uint64) []byte {
	switch {
	case v < 0xfd:
		return []byte{byte(v)}
	case v <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(v))
		return buf
	case v <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], v)
		return buf
	}
}

// String renders bytes as lowercase hex, matching the wire format
// mining.notify sends coinbase1/coinbase2 in.
func String(b []byte) string {
	return fmt.Sprintf("%x", b)
}
