package imm

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

const (
	stateSize = object.StateSize
	measSize  = object.MeasurementSize
)

var errInnovationSingular = errors.New("innovation covariance is not positive definite")

// observation is the fixed measurement matrix H selecting the observed
// state components.
var observation = func() *mat.Dense {
	h := mat.NewDense(measSize, stateSize, nil)
	for i, idx := range object.MeasurementStateIndex {
		h.Set(i, idx, 1)
	}
	return h
}()

// kalmanFilter is one member of the model bank. x/p hold the accepted
// (posterior) estimate; xPrior/pPrior the most recent prediction from it.
type kalmanFilter struct {
	model MotionModel

	x *mat.VecDense
	p *mat.SymDense

	xPrior *mat.VecDense
	pPrior *mat.SymDense

	// innovation covariance H·P·Hᵀ + R at the latest prior
	s *mat.SymDense

	logLikelihood float64
	repairs       int
}

func newKalmanFilter(m MotionModel, x []float64, initCov float64) *kalmanFilter {
	p := mat.NewSymDense(stateSize, nil)
	for i := 0; i < stateSize; i++ {
		p.SetSym(i, i, initCov)
	}
	f := &kalmanFilter{
		model: m,
		x:     mat.NewVecDense(stateSize, append([]float64(nil), x...)),
		p:     p,
	}
	f.xPrior = mat.VecDenseCopyOf(f.x)
	f.pPrior = mat.NewSymDense(stateSize, nil)
	f.pPrior.CopySym(f.p)
	return f
}

func (f *kalmanFilter) clone() *kalmanFilter {
	out := &kalmanFilter{
		model:         f.model,
		x:             mat.VecDenseCopyOf(f.x),
		p:             mat.NewSymDense(stateSize, nil),
		xPrior:        mat.VecDenseCopyOf(f.xPrior),
		pPrior:        mat.NewSymDense(stateSize, nil),
		logLikelihood: f.logLikelihood,
		repairs:       f.repairs,
	}
	out.p.CopySym(f.p)
	out.pPrior.CopySym(f.pPrior)
	if f.s != nil {
		out.s = mat.NewSymDense(measSize, nil)
		out.s.CopySym(f.s)
	}
	return out
}

// predictFrom propagates the mixed initial condition (x0, p0) by dt seconds
// into the prior.
func (f *kalmanFilter) predictFrom(x0 *mat.VecDense, p0 *mat.SymDense, dt, q, initCov float64) {
	next := make([]float64, stateSize)
	propagate(f.model, next, x0.RawVector().Data, dt)
	next[object.IdxYaw] = object.WrapAngle(next[object.IdxYaw])

	jac := transitionJacobian(f.model, x0.RawVector().Data, dt)
	var fp, fpf mat.Dense
	fp.Mul(jac, p0)
	fpf.Mul(&fp, jac.T())
	fpf.Add(&fpf, processNoise(q, dt))

	f.xPrior = mat.NewVecDense(stateSize, next)
	f.pPrior = symmetrize(&fpf)
	if repairCovariance(f.pPrior, initCov) {
		f.repairs++
	}
}

// innovationCovariance returns H·P·Hᵀ + R for the covariance p.
func innovationCovariance(p mat.Symmetric, r mat.Symmetric) *mat.SymDense {
	s := mat.NewSymDense(measSize, nil)
	for i, a := range object.MeasurementStateIndex {
		for j := i; j < measSize; j++ {
			b := object.MeasurementStateIndex[j]
			s.SetSym(i, j, p.At(a, b)+r.At(i, j))
		}
	}
	return s
}

// correct absorbs measurement z into the prior. On failure the prior is
// accepted unchanged and the model's likelihood is -Inf.
func (f *kalmanFilter) correct(z []float64, r *mat.SymDense, initCov float64) error {
	f.s = innovationCovariance(f.pPrior, r)

	var chol mat.Cholesky
	if !chol.Factorize(f.s) {
		if repairCovariance(f.s, initCov) {
			f.repairs++
		}
		if !chol.Factorize(f.s) {
			f.acceptPrior()
			return errInnovationSingular
		}
	}

	nu := mat.NewVecDense(measSize, nil)
	for i, idx := range object.MeasurementStateIndex {
		nu.SetVec(i, z[i]-f.xPrior.AtVec(idx))
	}
	nu.SetVec(object.MeasYaw, object.AngleDifference(z[object.MeasYaw], f.xPrior.AtVec(object.IdxYaw)))

	// Kᵀ = S⁻¹·H·P, using the symmetry of P and S.
	var hp mat.Dense
	hp.Mul(observation, f.pPrior)
	var kt mat.Dense
	if err := chol.SolveTo(&kt, &hp); err != nil {
		f.acceptPrior()
		return err
	}
	k := mat.DenseCopyOf(kt.T())

	var dx mat.VecDense
	dx.MulVec(k, nu)
	x := mat.NewVecDense(stateSize, nil)
	x.AddVec(f.xPrior, &dx)
	x.SetVec(object.IdxYaw, object.WrapAngle(x.AtVec(object.IdxYaw)))

	// Joseph form: (I-KH)·P·(I-KH)ᵀ + K·R·Kᵀ
	ikh := mat.NewDense(stateSize, stateSize, nil)
	ikh.Mul(k, observation)
	ikh.Scale(-1, ikh)
	for i := 0; i < stateSize; i++ {
		ikh.Set(i, i, ikh.At(i, i)+1)
	}
	var a, joseph, kr, krk mat.Dense
	a.Mul(ikh, f.pPrior)
	joseph.Mul(&a, ikh.T())
	kr.Mul(k, r)
	krk.Mul(&kr, k.T())
	joseph.Add(&joseph, &krk)

	if !isFiniteVec(x) {
		f.acceptPrior()
		return errors.New("correction produced a non-finite state")
	}
	f.x = x
	f.p = symmetrize(&joseph)
	if repairCovariance(f.p, initCov) {
		f.repairs++
	}

	var w mat.VecDense
	if err := chol.SolveVecTo(&w, nu); err != nil {
		f.logLikelihood = math.Inf(-1)
		return nil
	}
	maha := mat.Dot(nu, &w)
	f.logLikelihood = -0.5 * (maha + chol.LogDet() + float64(measSize)*math.Log(2*math.Pi))
	return nil
}

func (f *kalmanFilter) acceptPrior() {
	f.x = mat.VecDenseCopyOf(f.xPrior)
	f.p = mat.NewSymDense(stateSize, nil)
	f.p.CopySym(f.pPrior)
	f.logLikelihood = math.Inf(-1)
}
