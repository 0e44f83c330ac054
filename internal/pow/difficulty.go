// Package pow holds the proof-of-work support routines shared by every hasher:
// difficulty estimation and canonical solution ordering.
package pow

import "math/bits"

// DigestSize is the length of a solution digest
const DigestSize = 32

const (
	// lzOffset is the width difference between the 32-bit count and a byte
	lzOffset = 24
	// byteBits is the most a single byte can contribute
	byteBits = 8
)

// Difficulty returns the number of leading zero bits of digest. The scan
// stops at the first byte that contributes fewer than 8 zero bits.
func Difficulty(digest []byte) int {
	total := 0
	for _, b := range digest {
		t := bits.LeadingZeros32(uint32(b)) - lzOffset
		total += t
		if t < byteBits {
			break
		}
	}
	return total
}
