package bloomvault

import (
	"fmt"
	"math"
)

// FilterParams is the derived bit-vector size and hash count for a filter
// sized to hold n expected items at a target false positive rate p.
type FilterParams struct {
	M uint64 // bit vector length
	K uint64 // number of hash functions
}

// ComputeParams derives (m, k) from (n, p):
//
//	m = ceil(-n * ln(p) / ln(2)^2)
//	k = max(1, round((m/n) * ln(2)))
//
// It returns ErrInvalidParams if p is not in (0,1), n is 0, or the
// resulting m is smaller than k (which would collapse the modulo
// distribution the hash kernel depends on).
func ComputeParams(n uint64, p float64) (FilterParams, error) {
	if n < 1 {
		return FilterParams{}, fmt.Errorf("%w: expected items must be >= 1, got %d", ErrInvalidParams, n)
	}
	if !(p > 0 && p < 1) {
		return FilterParams{}, fmt.Errorf("%w: target false positive rate must be in (0,1), got %v", ErrInvalidParams, p)
	}

	const ln2Squared = math.Ln2 * math.Ln2
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / ln2Squared))
	if m < 1 {
		m = 1
	}

	k := uint64(math.Round((float64(m) / float64(n)) * math.Ln2))
	if k < 1 {
		k = 1
	}

	if m < k {
		return FilterParams{}, fmt.Errorf("%w: derived m=%d is smaller than k=%d", ErrInvalidParams, m, k)
	}

	return FilterParams{M: m, K: k}, nil
}
