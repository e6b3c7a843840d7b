package imm

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/tracking/classification"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

var (
	// ErrNotInitialized is returned by every operation that needs a seeded estimator.
	ErrNotInitialized = errors.New("estimator not initialized")
	// ErrNegativeTimeStep is returned by Predict for dt < 0 or NaN.
	ErrNegativeTimeStep = errors.New("negative or invalid time step")
	// ErrStaleTimestamp is returned when asked to predict to an instant
	// before the accepted estimate.
	ErrStaleTimestamp = errors.New("timestamp precedes the accepted estimate")
	// ErrCorrectionFailed is returned when no filter in the bank could absorb
	// the measurement.
	ErrCorrectionFailed = errors.New("no motion model accepted the measurement")
	// ErrModelIndex is returned for an out-of-range model index.
	ErrModelIndex = errors.New("model index out of range")
)

// minModelProbability keeps every model alive so the bank can switch back.
const minModelProbability = 1e-6

var logf = monitoring.Component("imm")

// Params configures an estimator at Initialize time.
type Params struct {
	ProcessNoise        float64       // q; per-second variance added on every state component
	MeasurementNoise    float64       // R = MeasurementNoise·I
	InitStateCovariance float64       // P₀ = InitStateCovariance·I
	MotionModels        []MotionModel // filter bank, in reporting order
	StayProbability     float64       // diagonal of the model transition matrix
}

// DefaultParams returns the standard tuning.
func DefaultParams() Params {
	return Params{
		ProcessNoise:        1e-6,
		MeasurementNoise:    1e-4,
		InitStateCovariance: 1.0,
		MotionModels:        DefaultMotionModels(),
		StayProbability:     0.9,
	}
}

// Validate checks p and names the first offending field.
func (p Params) Validate() error {
	switch {
	case !(p.ProcessNoise >= 0) || math.IsInf(p.ProcessNoise, 0):
		return fmt.Errorf("ProcessNoise must be finite and >= 0, got %v", p.ProcessNoise)
	case !(p.MeasurementNoise > 0) || math.IsInf(p.MeasurementNoise, 0):
		return fmt.Errorf("MeasurementNoise must be finite and > 0, got %v", p.MeasurementNoise)
	case !(p.InitStateCovariance > 0) || math.IsInf(p.InitStateCovariance, 0):
		return fmt.Errorf("InitStateCovariance must be finite and > 0, got %v", p.InitStateCovariance)
	case len(p.MotionModels) == 0:
		return errors.New("MotionModels must not be empty")
	case !(p.StayProbability > 0 && p.StayProbability <= 1):
		return fmt.Errorf("StayProbability must be in (0, 1], got %v", p.StayProbability)
	}
	var seen [numMotionModels]bool
	for _, m := range p.MotionModels {
		if !m.Valid() {
			return fmt.Errorf("MotionModels: invalid model %v", m)
		}
		if seen[m] {
			return fmt.Errorf("MotionModels: %v listed twice", m)
		}
		seen[m] = true
	}
	return nil
}

// Estimator is an IMM bank for one track.
type Estimator struct {
	params Params
	models []MotionModel

	filters [numMotionModels]*kalmanFilter

	mu          []float64 // model probabilities after the last correction
	priorMu     []float64 // predicted model probabilities from the last mixing
	transition  *mat.Dense
	conditional *mat.Dense // mixing weights μ(i|j) from the last mixing

	r *mat.SymDense

	acceptedAt time.Time // time of the posterior
	timestamp  time.Time // time of the current estimate (posterior or prediction)
	predicted  bool
	corrected  bool

	initialized bool

	// non-kinematic fields carried onto every snapshot
	id         int64
	classes    classification.Vector
	attributes *object.Attributes
	fusedX     *mat.VecDense
	fusedP     *mat.SymDense
}

// NewEstimator returns an uninitialized estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Initialize seeds every filter from seed at ts. It may be called again to
// reset the estimator.
func (e *Estimator) Initialize(seed object.TrackedObject, ts time.Time, p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid estimator params: %w", err)
	}
	x := seed.StateVector()
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: seed component %d is %v", object.ErrInvalidObject, i, v)
		}
	}
	x[object.IdxYaw] = object.WrapAngle(x[object.IdxYaw])

	*e = Estimator{
		params: p,
		models: append([]MotionModel(nil), p.MotionModels...),
	}
	n := len(e.models)
	for _, m := range e.models {
		e.filters[m] = newKalmanFilter(m, x, p.InitStateCovariance)
	}

	e.mu = make([]float64, n)
	for i := range e.mu {
		e.mu[i] = 1 / float64(n)
	}
	e.priorMu = append([]float64(nil), e.mu...)

	e.transition = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			switch {
			case n == 1:
				e.transition.Set(i, j, 1)
			case i == j:
				e.transition.Set(i, j, p.StayProbability)
			default:
				e.transition.Set(i, j, (1-p.StayProbability)/float64(n-1))
			}
		}
	}
	e.conditional = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		e.conditional.Set(i, i, 1)
	}

	e.r = mat.NewSymDense(measSize, nil)
	for i := 0; i < measSize; i++ {
		e.r.SetSym(i, i, p.MeasurementNoise)
	}

	e.id = seed.ID
	e.classes = seed.Classification.Clone()
	e.attributes = seed.Attributes.Clone()
	e.acceptedAt, e.timestamp = ts, ts
	e.initialized = true
	e.fuse(false)
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (e *Estimator) Initialized() bool { return e.initialized }

// Timestamp returns the time of the current estimate.
func (e *Estimator) Timestamp() time.Time { return e.timestamp }

// Models returns the filter bank in reporting order.
func (e *Estimator) Models() []MotionModel {
	return append([]MotionModel(nil), e.models...)
}

// Predict advances the estimate by dt seconds from the current timestamp.
func (e *Estimator) Predict(dt float64) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if !(dt >= 0) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: %v", ErrNegativeTimeStep, dt)
	}
	return e.PredictTo(e.timestamp.Add(secondsToDuration(dt)))
}

// PredictTo produces the estimate at ts. The accepted estimate is not
// changed: repeated predictions all start from the last correction, so a
// coasting track is simply predicted further ahead each frame.
func (e *Estimator) PredictTo(ts time.Time) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if ts.Before(e.acceptedAt) {
		return fmt.Errorf("%w: %s is before %s", ErrStaleTimestamp,
			ts.Format(time.RFC3339Nano), e.acceptedAt.Format(time.RFC3339Nano))
	}
	e.predictPriors(ts.Sub(e.acceptedAt).Seconds())
	e.timestamp = ts
	e.predicted = true
	e.corrected = false
	e.fuse(true)
	return nil
}

// predictPriors mixes the posteriors and propagates each filter by dt.
func (e *Estimator) predictPriors(dt float64) {
	n := len(e.models)

	cbar := make([]float64, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			cbar[j] += e.transition.At(i, j) * e.mu[i]
		}
	}

	xs := make([]*mat.VecDense, n)
	ps := make([]*mat.SymDense, n)
	for i, m := range e.models {
		xs[i] = e.filters[m].x
		ps[i] = e.filters[m].p
	}

	weights := make([]float64, n)
	for j, m := range e.models {
		for i := 0; i < n; i++ {
			if cbar[j] > 0 {
				weights[i] = e.transition.At(i, j) * e.mu[i] / cbar[j]
			} else if i == j {
				weights[i] = 1
			} else {
				weights[i] = 0
			}
			e.conditional.Set(i, j, weights[i])
		}
		x0, p0 := moments(xs, ps, weights)
		e.filters[m].predictFrom(x0, p0, dt, e.params.ProcessNoise, e.params.InitStateCovariance)
	}
	e.priorMu = cbar
	e.reportRepairs()
}

// Correct absorbs measurement m at the current timestamp. Without a pending
// prediction the filters are corrected in place (zero-length step).
func (e *Estimator) Correct(m object.TrackedObject) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	z := m.MeasurementVector()
	for i, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: measurement component %d is %v", object.ErrInvalidObject, i, v)
		}
	}
	if !e.predicted {
		e.predictPriors(0)
	}

	n := len(e.models)
	logs := make([]float64, n)
	accepted := 0
	for i, model := range e.models {
		f := e.filters[model]
		if err := f.correct(z, e.r, e.params.InitStateCovariance); err != nil {
			logf("track %d: %v correction rejected: %v", e.id, model, err)
			monitoring.Default.Inc(monitoring.FailedCorrections)
		} else {
			accepted++
		}
		if e.priorMu[i] > 0 {
			logs[i] = math.Log(e.priorMu[i]) + f.logLikelihood
		} else {
			logs[i] = math.Inf(-1)
		}
	}
	e.reportRepairs()

	e.acceptedAt = e.timestamp
	e.predicted = false
	if accepted == 0 {
		e.corrected = false
		e.fuse(false)
		return ErrCorrectionFailed
	}

	e.updateModelProbabilities(logs)
	e.absorbLabels(m)
	e.corrected = true
	e.fuse(false)
	return nil
}

// Track predicts to ts and corrects with m.
func (e *Estimator) Track(m object.TrackedObject, ts time.Time) error {
	if err := e.PredictTo(ts); err != nil {
		return err
	}
	return e.Correct(m)
}

func (e *Estimator) updateModelProbabilities(logs []float64) {
	lse := floats.LogSumExp(logs)
	if math.IsInf(lse, 0) || math.IsNaN(lse) {
		copy(e.mu, e.priorMu)
		return
	}
	for i, l := range logs {
		e.mu[i] = math.Max(math.Exp(l-lse), minModelProbability)
	}
	floats.Scale(1/floats.Sum(e.mu), e.mu)
}

func (e *Estimator) absorbLabels(m object.TrackedObject) {
	if len(m.Classification) > 0 {
		switch {
		case len(e.classes) == 0:
			e.classes = m.Classification.Clone()
		default:
			fused, err := classification.Combine(e.classes, m.Classification)
			if err != nil {
				// The latest observation wins when the two share no mass.
				monitoring.Default.Inc(monitoring.DegenerateClassUpdate)
				fused = m.Classification.Clone()
			}
			e.classes = fused
		}
	}
	if m.Attributes.Len() > 0 {
		if e.attributes == nil {
			e.attributes = &object.Attributes{}
		}
		e.attributes.Merge(m.Attributes)
	}
}

func (e *Estimator) reportRepairs() {
	for _, m := range e.models {
		f := e.filters[m]
		if f.repairs > 0 {
			logf("track %d: %v covariance repaired %d time(s)", e.id, m, f.repairs)
			monitoring.Default.Add(monitoring.CovarianceRepairs, int64(f.repairs))
			f.repairs = 0
		}
	}
}

// fuse recomputes the combined estimate from the priors or posteriors.
func (e *Estimator) fuse(prior bool) {
	n := len(e.models)
	xs := make([]*mat.VecDense, n)
	ps := make([]*mat.SymDense, n)
	for i, m := range e.models {
		if prior {
			xs[i], ps[i] = e.filters[m].xPrior, e.filters[m].pPrior
		} else {
			xs[i], ps[i] = e.filters[m].x, e.filters[m].p
		}
	}
	weights := e.mu
	if prior {
		weights = e.priorMu
	}
	e.fusedX, e.fusedP = moments(xs, ps, weights)
}

// moments returns the weighted mean and spread-of-means covariance of a
// Gaussian mixture. Yaw is averaged on the circle around the heaviest member.
func moments(xs []*mat.VecDense, ps []*mat.SymDense, w []float64) (*mat.VecDense, *mat.SymDense) {
	ref := floats.MaxIdx(w)
	refYaw := xs[ref].AtVec(object.IdxYaw)

	mean := mat.NewVecDense(stateSize, nil)
	var yawOffset float64
	for i, x := range xs {
		if w[i] == 0 {
			continue
		}
		mean.AddScaledVec(mean, w[i], x)
		yawOffset += w[i] * object.AngleDifference(x.AtVec(object.IdxYaw), refYaw)
	}
	mean.SetVec(object.IdxYaw, object.WrapAngle(refYaw+yawOffset))

	cov := mat.NewSymDense(stateSize, nil)
	d := mat.NewVecDense(stateSize, nil)
	for i, x := range xs {
		if w[i] == 0 {
			continue
		}
		d.SubVec(x, mean)
		d.SetVec(object.IdxYaw, object.AngleDifference(x.AtVec(object.IdxYaw), mean.AtVec(object.IdxYaw)))
		var term mat.SymDense
		term.SymRankOne(ps[i], 1, d)
		var scaled mat.SymDense
		scaled.ScaleSym(w[i], &term)
		cov.AddSym(cov, &scaled)
	}
	return mean, cov
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
