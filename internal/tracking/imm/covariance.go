package imm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// minVariance is the eigenvalue floor applied when a covariance is repaired.
	minVariance = 1e-9
	// baseProcessVariance keeps every diagonal entry of Q strictly positive,
	// including zero-length steps.
	baseProcessVariance = 1e-12
)

// symmetrize returns (m + mᵀ)/2 as a SymDense.
func symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

func isFiniteSym(s mat.Symmetric) bool {
	n := s.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := s.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func isFiniteVec(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		f := v.AtVec(i)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// repairCovariance restores p to symmetric positive definite in place by
// flooring its eigenvalues. It reports whether p had to be changed. A
// non-finite p is replaced by fallback·I.
func repairCovariance(p *mat.SymDense, fallback float64) bool {
	n := p.SymmetricDim()
	if !isFiniteSym(p) {
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := 0.0
				if i == j {
					v = fallback
				}
				p.SetSym(i, j, v)
			}
		}
		return true
	}

	var chol mat.Cholesky
	if chol.Factorize(p) {
		return false
	}

	var eig mat.EigenSym
	if !eig.Factorize(p, true) {
		for i := 0; i < n; i++ {
			p.SetSym(i, i, math.Max(p.At(i, i), fallback))
		}
		return true
	}
	values := eig.Values(nil)
	for i, v := range values {
		if v < minVariance {
			values[i] = minVariance
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	var scaled mat.Dense
	scaled.Mul(&vecs, mat.NewDiagDense(n, values))
	var rebuilt mat.Dense
	rebuilt.Mul(&scaled, vecs.T())
	p.CopySym(symmetrize(&rebuilt))
	return true
}

// processNoise is the per-step process noise q·dt on every state component.
func processNoise(q, dt float64) *mat.SymDense {
	qm := mat.NewSymDense(stateSize, nil)
	for i := 0; i < stateSize; i++ {
		qm.SetSym(i, i, q*dt+baseProcessVariance)
	}
	return qm
}
