// Package solver provides the per-thread hashing working memory and the fixed
// pool those buffers are checked out from.
package solver

import (
	"encoding/binary"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/pow"
)

// MaxSolutions is the most candidates a single nonce can yield
const MaxSolutions = 2

// Candidate is one solution produced for a nonce
type Candidate struct {
	Nonce    uint64
	Solution pow.Solution
	Digest   [pow.DigestSize]byte
}

// Solver owns the working memory for one hashing thread. A Solver must not be
// shared between goroutines.
type Solver struct {
	id     int
	seed   hash.Hash
	digest hash.Hash

	input   []byte
	seedOut []byte
	solBuf  []byte
	sumBuf  []byte
	cands   [MaxSolutions]Candidate

	closed bool
	closer func() error
}

// New allocates a Solver and all of its working memory
func New(id int) (*Solver, error) {
	seed, err := blake2b.New512(nil)
	if err != nil {
		return nil, fmt.Errorf("solver %d: %w", id, err)
	}
	return &Solver{
		id:      id,
		seed:    seed,
		digest:  sha3.New256(),
		input:   make([]byte, challenge.Size+8+pow.SolutionSize),
		seedOut: make([]byte, 0, blake2b.Size),
		solBuf:  make([]byte, pow.SolutionSize),
		sumBuf:  make([]byte, 0, pow.DigestSize),
	}, nil
}

// ID returns the solver index inside its pool
func (s *Solver) ID() int { return s.id }

// Solve hashes one nonce against c and returns the candidate solutions it
// produced, in canonical order. The returned slice is only valid until the
// next call.
func (s *Solver) Solve(c challenge.Digest, nonce uint64) []Candidate {
	copy(s.input, c[:])
	binary.LittleEndian.PutUint64(s.input[challenge.Size:], nonce)
	head := s.input[:challenge.Size+8]

	s.seed.Reset()
	s.seed.Write(head)
	seed := s.seed.Sum(s.seedOut[:0])

	count := int(seed[0]) % (MaxSolutions + 1)
	out := s.cands[:0]
	for i := 0; i < count; i++ {
		var sol pow.Solution
		off := 1 + i*pow.SolutionSize
		for j := range sol {
			sol[j] = binary.LittleEndian.Uint16(seed[off+j*2:])
		}
		pow.Canonicalize(&sol)

		sol.Put(s.input[challenge.Size+8:])
		s.digest.Reset()
		s.digest.Write(s.input)
		sum := s.digest.Sum(s.sumBuf[:0])

		cand := Candidate{Nonce: nonce, Solution: sol}
		copy(cand.Digest[:], sum)
		out = append(out, cand)
	}
	return out
}

// Close releases the working memory. Closing twice is an error.
func (s *Solver) Close() error {
	if s.closed {
		return fmt.Errorf("solver %d: already closed", s.id)
	}
	s.closed = true
	if s.closer != nil {
		if err := s.closer(); err != nil {
			return fmt.Errorf("solver %d: %w", s.id, err)
		}
	}
	s.seed = nil
	s.digest = nil
	s.input = nil
	return nil
}
