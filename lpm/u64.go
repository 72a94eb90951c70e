package lpm

import (
	"encoding/binary"
	"math/bits"
	"unsafe"
)

// Bit masks for extracting prefixes of different lengths (little-endian).
var masks = [9]uint64{
	0x0000000000000000, // 0 bytes
	0x00000000000000FF, // 1 byte
	0x000000000000FFFF, // 2 bytes
	0x0000000000FFFFFF, // 3 bytes
	0x00000000FFFFFFFF, // 4 bytes
	0x000000FFFFFFFFFF, // 5 bytes
	0x0000FFFFFFFFFFFF, // 6 bytes
	0x00FFFFFFFFFFFFFF, // 7 bytes
	0xFFFFFFFFFFFFFFFF, // 8 bytes
}

// bytesToU64LE converts a byte sequence to a little-endian u64 keeping only
// the first length bytes. Byte 0 of the pattern lands in the low-order byte,
// so the length masks zero everything past the pattern.
func bytesToU64LE(b []byte, length int) uint64 {
	if length > 8 {
		length = 8
	}
	if length < 0 {
		length = 0
	}

	if len(b) < 8 {
		// Widening load: pad with zeroes instead of reading past the slice.
		var buf [8]byte
		copy(buf[:], b)
		return binary.LittleEndian.Uint64(buf[:]) & masks[length]
	}

	// Fast path: unaligned 8-byte load, safe since len(b) >= 8.
	value := *(*uint64)(unsafe.Pointer(&b[0]))
	return value & masks[length]
}

// sharedPrefixSize returns the number of leading pattern bytes two masked
// words have in common. Little-endian keys put the pattern prefix in the low
// bytes, so trailing zero bits of the XOR count shared prefix bytes.
func sharedPrefixSize(a, b uint64) int {
	return bits.TrailingZeros64(a^b) >> 3
}

// isPrefix reports whether prefix (prefixSize bytes) is a prefix of text
// (textSize bytes), both stored as masked little-endian words.
func isPrefix(text, prefix uint64, textSize, prefixSize int) bool {
	return prefixSize <= textSize && sharedPrefixSize(text, prefix) >= prefixSize
}

// u64ToBytes converts a little-endian word back into its 8 pattern bytes.
func u64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
