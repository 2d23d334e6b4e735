package address

import "strings"

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32Index = func() map[byte]byte {
	m := make(map[byte]byte, len(bech32Charset))
	for i := 0; i < len(bech32Charset); i++ {
		m[bech32Charset[i]] = byte(i)
	}
	return m
}()

// DecodeSegwitAddress decodes a Bech32/Bech32m segwit address into its
// witness version and program, without validating the checksum. The human
// readable part and the 6-symbol checksum are both stripped structurally
// (split at the last '1', drop the final 6 data symbols); the checksum
// itself is never recomputed or compared, matching the same
// decode-without-validating posture as DecodeBase58Check.
func DecodeSegwitAddress(s string) (witnessVersion byte, program []byte, ok bool) {
	lower := strings.ToLower(s)
	if lower != s && strings.ToUpper(s) != s {
		// mixed case is structurally invalid bech32
		return 0, nil, false
	}

	sep := strings.LastIndexByte(lower, '1')
	if sep < 1 || sep+7 > len(lower) {
		return 0, nil, false
	}

	data := lower[sep+1:]
	if len(data) < 6 {
		return 0, nil, false
	}
	data = data[:len(data)-6] // drop checksum, unchecked

	values := make([]byte, len(data))
	for i := 0; i < len(data); i++ {
		v, known := bech32Index[data[i]]
		if !known {
			return 0, nil, false
		}
		values[i] = v
	}
	if len(values) == 0 {
		return 0, nil, false
	}

	witnessVersion = values[0]
	converted, ok := convertBits(values[1:], 5, 8, false)
	if !ok {
		return 0, nil, false
	}
	return witnessVersion, converted, true
}

// convertBits regroups a bit stream from one group size to another,
// following BIP-173's padding rules: pad allows a non-zero-length trailing
// group when converting down to a smaller width (not used here, decode
// always converts up from 5 to 8); without pad, it rejects leftover bits
// that fill a whole input group or are non-zero.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, bool) {
	var acc uint32
	var bits uint
	var result []byte
	maxValue := uint32(1<<toBits) - 1
	maxAcc := uint32(1<<(fromBits+toBits-1)) - 1

	for _, value := range data {
		if uint32(value)>>fromBits != 0 {
			return nil, false
		}
		acc = ((acc << fromBits) | uint32(value)) & maxAcc
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			result = append(result, byte((acc>>bits)&maxValue))
		}
	}

	if pad {
		if bits > 0 {
			result = append(result, byte((acc<<(toBits-bits))&maxValue))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxValue) != 0 {
		return nil, false
	}

	return result, true
}
