package imm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

// CurrentState returns the fused estimate. Before Initialize it returns the
// zero value.
func (e *Estimator) CurrentState() object.TrackedObject {
	if !e.initialized {
		return object.TrackedObject{}
	}
	pred := innovationCovariance(e.fusedP, e.r)
	return e.snapshot(e.fusedX, e.fusedP, pred)
}

// CurrentStates returns one estimate per model, in Models() order.
func (e *Estimator) CurrentStates() []object.TrackedObject {
	if !e.initialized {
		return nil
	}
	out := make([]object.TrackedObject, 0, len(e.models))
	for _, m := range e.models {
		f := e.filters[m]
		x, p := f.x, f.p
		if e.predicted {
			x, p = f.xPrior, f.pPrior
		}
		out = append(out, e.snapshot(x, p, innovationCovariance(p, e.r)))
	}
	return out
}

func (e *Estimator) snapshot(x *mat.VecDense, p, s *mat.SymDense) object.TrackedObject {
	o := object.TrackedObject{
		ID:             e.id,
		Corrected:      e.corrected,
		Classification: e.classes.Clone(),
		Attributes:     e.attributes.Clone(),
	}
	// x always has StateSize entries.
	_ = o.SetStateVector(append([]float64(nil), x.RawVector().Data...))

	o.ErrorCovariance = symData(p)
	o.PredictedMeasurementCov = symData(s)
	o.PredictedMeasurementMean = make([]float64, measSize)
	for i, idx := range object.MeasurementStateIndex {
		o.PredictedMeasurementMean[i] = x.AtVec(idx)
	}
	return o
}

// ModelProbability returns the model probabilities in Models() order. After
// a prediction these are the predicted probabilities.
func (e *Estimator) ModelProbability() []float64 {
	if e.predicted {
		return append([]float64(nil), e.priorMu...)
	}
	return append([]float64(nil), e.mu...)
}

// TransitionProbability returns a copy of the Markov model transition matrix.
func (e *Estimator) TransitionProbability() *mat.Dense {
	if !e.initialized {
		return nil
	}
	return mat.DenseCopyOf(e.transition)
}

// ConditionalProbability returns the mixing weights μ(i|j) used by the last
// prediction: column j holds the contribution of each model i to model j's
// initial condition.
func (e *Estimator) ConditionalProbability() *mat.Dense {
	if !e.initialized {
		return nil
	}
	return mat.DenseCopyOf(e.conditional)
}

// ErrorCovariance returns the state covariance of the n-th model.
func (e *Estimator) ErrorCovariance(n int) (*mat.SymDense, error) {
	f, err := e.filterAt(n)
	if err != nil {
		return nil, err
	}
	p := f.p
	if e.predicted {
		p = f.pPrior
	}
	out := mat.NewSymDense(stateSize, nil)
	out.CopySym(p)
	return out, nil
}

// MeasurementCovariance returns H·P·Hᵀ + R for the n-th model.
func (e *Estimator) MeasurementCovariance(n int) (*mat.SymDense, error) {
	f, err := e.filterAt(n)
	if err != nil {
		return nil, err
	}
	p := f.p
	if e.predicted {
		p = f.pPrior
	}
	return innovationCovariance(p, e.r), nil
}

func (e *Estimator) filterAt(n int) (*kalmanFilter, error) {
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	if n < 0 || n >= len(e.models) {
		return nil, fmt.Errorf("%w: %d of %d", ErrModelIndex, n, len(e.models))
	}
	return e.filters[e.models[n]], nil
}

// Clone returns an independent deep copy.
func (e *Estimator) Clone() *Estimator {
	out := *e
	out.models = append([]MotionModel(nil), e.models...)
	out.params.MotionModels = append([]MotionModel(nil), e.params.MotionModels...)
	for i, f := range e.filters {
		if f != nil {
			out.filters[i] = f.clone()
		}
	}
	out.mu = append([]float64(nil), e.mu...)
	out.priorMu = append([]float64(nil), e.priorMu...)
	if e.initialized {
		out.transition = mat.DenseCopyOf(e.transition)
		out.conditional = mat.DenseCopyOf(e.conditional)
		out.r = mat.NewSymDense(measSize, nil)
		out.r.CopySym(e.r)
		out.fusedX = mat.VecDenseCopyOf(e.fusedX)
		out.fusedP = mat.NewSymDense(stateSize, nil)
		out.fusedP.CopySym(e.fusedP)
	}
	out.classes = e.classes.Clone()
	out.attributes = e.attributes.Clone()
	return &out
}

func symData(s mat.Symmetric) []float64 {
	n := s.SymmetricDim()
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = s.At(i, j)
		}
	}
	return out
}
