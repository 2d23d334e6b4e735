package address

import "math/big"

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() map[byte]int64 {
	m := make(map[byte]int64, len(base58Alphabet))
	for i := 0; i < len(base58Alphabet); i++ {
		m[base58Alphabet[i]] = int64(i)
	}
	return m
}()

// decodeBase58 decodes a Base58 string into bytes using plain big-integer
// base conversion, preserving leading '1' characters as leading zero bytes.
// It does not validate or strip a checksum: callers that need the embedded
// version byte and payload (and not a trailing checksum) must slice the
// result themselves. An address the pool cannot decode structurally (illegal
// character) is reported via ok=false; a decodable-but-malformed address is
// the caller's concern, matching the spec's "attempt to build a payout
// script even for a miner's malformed address" requirement.
func decodeBase58(s string) (data []byte, ok bool) {
	if len(s) == 0 {
		return nil, false
	}

	leadingOnes := 0
	for leadingOnes < len(s) && s[leadingOnes] == '1' {
		leadingOnes++
	}

	value := new(big.Int)
	base := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		digit, known := base58Index[s[i]]
		if !known {
			return nil, false
		}
		value.Mul(value, base)
		value.Add(value, big.NewInt(digit))
	}

	decoded := value.Bytes()
	result := make([]byte, leadingOnes+len(decoded))
	copy(result[leadingOnes:], decoded)
	return result, true
}

// DecodeBase58Check decodes a Base58Check-encoded string and returns the
// version byte and payload, WITHOUT verifying the trailing 4-byte checksum.
// Per the spec's address-handling design, a worker's claimed payout address
// is never rejected for a bad checksum; it is either converted to a
// scriptPubKey or, if structurally undecodable, the pool falls back to an
// OP_RETURN output rather than refusing the job.
func DecodeBase58Check(s string) (version byte, payload []byte, ok bool) {
	raw, ok := decodeBase58(s)
	if !ok || len(raw) < 5 {
		return 0, nil, false
	}
	body := raw[:len(raw)-4]
	return body[0], body[1:], true
}
