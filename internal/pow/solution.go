package pow

import "encoding/binary"

// SolutionLen is the number of indices in a candidate solution
const SolutionLen = 8

// Solution is a candidate solution for a challenge/nonce pair
type Solution [SolutionLen]uint16

// SolutionSize is the encoded length of a Solution
const SolutionSize = SolutionLen * 2

// Bytes encodes the solution little-endian
func (s Solution) Bytes() []byte {
	out := make([]byte, SolutionSize)
	s.Put(out)
	return out
}

// Put writes the little-endian encoding into dst, which must hold SolutionSize bytes
func (s Solution) Put(dst []byte) {
	for i, v := range s {
		binary.LittleEndian.PutUint16(dst[i*2:], v)
	}
}

// SolutionFromBytes decodes a little-endian solution
func SolutionFromBytes(b []byte) (Solution, bool) {
	var s Solution
	if len(b) != SolutionSize {
		return s, false
	}
	for i := range s {
		s[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return s, true
}
