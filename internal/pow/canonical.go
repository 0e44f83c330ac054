package pow

// Canonicalize puts s in ascending order using a fixed comparator network:
// sort adjacent pairs, merge pairs into quads, merge quads.
func Canonicalize(s *Solution) {
	// pairs
	cas(s, 0, 1)
	cas(s, 2, 3)
	cas(s, 4, 5)
	cas(s, 6, 7)

	// pairs of pairs
	cas(s, 0, 2)
	cas(s, 1, 3)
	cas(s, 4, 6)
	cas(s, 5, 7)
	cas(s, 1, 2)
	cas(s, 5, 6)

	// pairs of quads
	cas(s, 0, 4)
	cas(s, 1, 5)
	cas(s, 2, 6)
	cas(s, 3, 7)
	cas(s, 2, 4)
	cas(s, 3, 5)
	cas(s, 1, 2)
	cas(s, 3, 4)
	cas(s, 5, 6)
}

func cas(s *Solution, i, j int) {
	if s[i] > s[j] {
		s[i], s[j] = s[j], s[i]
	}
}

// IsCanonical reports whether s is already in canonical order
func IsCanonical(s Solution) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}
