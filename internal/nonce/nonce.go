// Package nonce splits nonce windows between hashers and worker threads
package nonce

import "math/bits"

const (
	// BaseBatchSize is the smallest batch any hasher runs
	BaseBatchSize = 64
)

// Range is a half-open nonce range [Start, End)
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of nonces in r
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Partition splits count nonces starting at start into at most parts
// contiguous ranges. Sizes differ by at most one and empty ranges are omitted.
func Partition(start, count uint64, parts int) []Range {
	if count == 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	if uint64(parts) > count {
		parts = int(count)
	}

	size := count / uint64(parts)
	extra := count % uint64(parts)

	out := make([]Range, 0, parts)
	cur := start
	for i := 0; i < parts; i++ {
		n := size
		if uint64(i) < extra {
			n++
		}
		out = append(out, Range{Start: cur, End: cur + n})
		cur += n
	}
	return out
}

// MinimumBatchSize returns the power-of-two batch floor for the given thread
// count: max(64, 2^floor(log2(threads*2))).
func MinimumBatchSize(threads int) uint64 {
	if threads < 1 {
		threads = 1
	}
	n := uint64(threads) * 2
	pow := uint64(1) << (bits.Len64(n) - 1)
	if pow < BaseBatchSize {
		return BaseBatchSize
	}
	return pow
}

// CPUShare returns how many nonces of a window of total go to CPU hashers
// for the given ratio. Ratios outside (0, 1) give the CPU the full window.
func CPUShare(total uint64, ratio float64) uint64 {
	if ratio <= 0 || ratio >= 1 {
		return 0
	}
	return uint64(float64(total) * ratio)
}
