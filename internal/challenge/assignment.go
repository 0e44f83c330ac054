// Package challenge holds the shared mining assignment state and the best
// difficulty tracker.
package challenge

import (
	"encoding/hex"

	"github.com/carlosrabelo/orion/internal/pow"
)

// Size is the length of a challenge digest
const Size = 32

// Digest is an opaque pool-issued challenge
type Digest [Size]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Assignment is a new challenge announced by the pool
type Assignment struct {
	ID         int64
	Challenge  Digest
	StartNonce uint64
	EndNonce   uint64
	Cutoff     uint64
	// CPUNonces is the share of the window reserved for CPU hashers;
	// zero hands the full window to the CPU.
	CPUNonces uint64
}

// Window is a half-open nonce range [Start, End)
type Window struct {
	Start uint64
	End   uint64
}

// Len returns the number of nonces in the window
func (w Window) Len() uint64 {
	if w.End <= w.Start {
		return 0
	}
	return w.End - w.Start
}

// CPUWindow returns the nonces assigned to CPU hashers
func (a Assignment) CPUWindow() Window {
	if a.CPUNonces == 0 {
		return Window{Start: a.StartNonce, End: a.EndNonce}
	}
	return Window{Start: a.StartNonce, End: a.StartNonce + a.CPUNonces}
}

// GPUWindow returns the nonces left to GPU hashers
func (a Assignment) GPUWindow() Window {
	if a.CPUNonces == 0 {
		return Window{Start: a.EndNonce, End: a.EndNonce}
	}
	return Window{Start: a.StartNonce + a.CPUNonces + 1, End: a.EndNonce}
}

// Result is a difficulty improvement reported to the pool
type Result struct {
	ChallengeID int64
	Challenge   Digest
	Difficulty  int
	Nonce       uint64
	Solution    pow.Solution
}
