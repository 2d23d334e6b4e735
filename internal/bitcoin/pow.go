// Package bitcoin provides the byte-order and proof-of-work primitives the
// rest of the pool shares: double-SHA256, endian transforms, and exact
// big-integer difficulty arithmetic.
package bitcoin

import (
	"crypto/sha256"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

// DoubleSHA256 computes SHA256(SHA256(data)).
func DoubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

// ReverseBytes returns a copy of data with byte order reversed.
func ReverseBytes(data []byte) []byte {
	result := make([]byte, len(data))
	for i := 0; i < len(data); i++ {
		result[i] = data[len(data)-1-i]
	}
	return result
}

// SwapWords32 swaps the endianness of each 4-byte word in a 32-byte hash,
// without reversing the word order. Used to turn a node's internal-byte-order
// prevhash into the word-swapped form the Stratum wire sends in mining.notify.
func SwapWords32(hash []byte) []byte {
	if len(hash) != 32 {
		return hash
	}

	result := make([]byte, 32)
	for i := 0; i < 8; i++ {
		for j := 0; j < 4; j++ {
			result[i*4+j] = hash[i*4+(3-j)]
		}
	}
	return result
}

// HashToBig interprets a 32-byte hash, as produced by DoubleSHA256 in its
// natural (internal) byte order, as the big-endian 256-bit integer the
// protocol compares against targets: the hash bytes are reversed first since
// Bitcoin's hash compare treats the hash as little-endian.
func HashToBig(hash []byte) *big.Int {
	reversed := ReverseBytes(hash)
	return new(big.Int).SetBytes(reversed)
}

// CompactToBig expands a compact "nBits" field into its 256-bit target.
func CompactToBig(bits uint32) *big.Int {
	return blockchain.CompactToBig(bits)
}

// BigToCompact compresses a 256-bit value into the compact "nBits" encoding.
func BigToCompact(value *big.Int) uint32 {
	return blockchain.BigToCompact(value)
}

// diff1Target is the target corresponding to pool/network difficulty 1,
// 0x00000000FFFF0000000000000000000000000000000000000000000000000000.
var diff1Target = func() *big.Int {
	t := new(big.Int).Lsh(big.NewInt(0xFFFF), 208)
	return t
}()

// Diff1Target returns the difficulty-1 target as a big.Int. Callers must not
// mutate the returned value.
func Diff1Target() *big.Int {
	return diff1Target
}

// DifficultyToTarget converts a difficulty value into its 256-bit target:
// target = diff1Target / difficulty. difficulty <= 0 is treated as 1.
func DifficultyToTarget(difficulty float64) *big.Int {
	if difficulty <= 0 {
		difficulty = 1
	}
	// Scale to avoid losing precision on fractional difficulties: multiply
	// diff1Target by 1e8 and difficulty by 1e8, so the division operates on
	// integers derived from the float's first 8 decimal digits.
	const scale = 100000000
	scaledDiff := new(big.Int).SetInt64(int64(difficulty * scale))
	if scaledDiff.Sign() <= 0 {
		scaledDiff = big.NewInt(1)
	}
	numerator := new(big.Int).Mul(diff1Target, big.NewInt(scale))
	return new(big.Int).Div(numerator, scaledDiff)
}

// TargetToDifficulty converts a 256-bit target into a difficulty value:
// difficulty = diff1Target / target.
func TargetToDifficulty(target *big.Int) float64 {
	if target == nil || target.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Rat).SetFrac(diff1Target, target)
	f, _ := ratio.Float64()
	return f
}

// ShareDifficulty scores a block-header hash (internal byte order, as
// returned by DoubleSHA256) against the difficulty-1 target, returning the
// exact integer-division difficulty: diff1Target / HashToBig(hash). Unlike a
// float conversion this never loses precision for very large or very small
// hashes.
func ShareDifficulty(hash []byte) *big.Int {
	hashInt := HashToBig(hash)
	if hashInt.Sign() <= 0 {
		return new(big.Int).Set(diff1Target)
	}
	return new(big.Int).Div(diff1Target, hashInt)
}

// HashMeetsTarget reports whether a header hash (internal byte order) is
// numerically less than or equal to target.
func HashMeetsTarget(hash []byte, target *big.Int) bool {
	return HashToBig(hash).Cmp(target) <= 0
}

// MeetsDifficulty reports whether a header hash satisfies the given
// difficulty, i.e. ShareDifficulty(hash) >= difficulty.
func MeetsDifficulty(hash []byte, difficulty *big.Int) bool {
	if difficulty == nil || difficulty.Sign() <= 0 {
		return true
	}
	return ShareDifficulty(hash).Cmp(difficulty) >= 0
}
