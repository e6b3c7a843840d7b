package classification

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrLengthMismatch is returned when two vectors index different class lists.
	ErrLengthMismatch = errors.New("classification vector length mismatch")
	// ErrDegenerate is returned by Combine when the vectors share no
	// probability mass, so no posterior distribution exists.
	ErrDegenerate = errors.New("classification vectors are disjoint")
	// ErrInvalidVector is returned for empty vectors or vectors with
	// negative or non-finite entries.
	ErrInvalidVector = errors.New("invalid classification vector")
)

// Vector is a probability distribution over a class list.
type Vector []float64

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Validate checks that v is non-empty with finite, non-negative entries.
func (v Vector) Validate() error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	for i, p := range v {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("%w: entry %d is %v", ErrInvalidVector, i, p)
		}
	}
	return nil
}

// Max returns the largest probability and its index. Ties resolve to the
// lowest index. An empty vector returns (0, -1).
func (v Vector) Max() (float64, int) {
	if len(v) == 0 {
		return 0, -1
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return v[best], best
}

// Normalized returns v scaled to sum to one. A zero-mass vector yields ErrDegenerate.
func (v Vector) Normalized() (Vector, error) {
	sum := floats.Sum(v)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrDegenerate
	}
	out := v.Clone()
	floats.Scale(1/sum, out)
	return out, nil
}

// Combine fuses two independent observations of the same object into the
// normalized element-wise product a⊙b / Σ(a⊙b). Combine is commutative.
// When the product has no mass (for example two different one-hot vectors)
// ErrDegenerate is returned and no vector is produced.
func Combine(a, b Vector) (Vector, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	prod := make(Vector, len(a))
	floats.MulTo(prod, a, b)
	out, err := prod.Normalized()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Similarity is the Bhattacharyya coefficient Σ√(aᵢbᵢ). It is 1 for
// identical distributions and 0 for disjoint ones.
func Similarity(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	var bc float64
	for i := range a {
		bc += math.Sqrt(a[i] * b[i])
	}
	// Rounding can push identical normalized vectors a hair past one.
	return math.Min(bc, 1), nil
}

// Distance is the Hellinger distance √(1 − Similarity). It is zero iff the
// distributions are equal and grows as their shared mass shrinks.
func Distance(a, b Vector) (float64, error) {
	bc, err := Similarity(a, b)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(math.Max(0, 1-bc)), nil
}
