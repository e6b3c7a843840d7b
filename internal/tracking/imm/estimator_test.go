package imm

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scenetrack/internal/tracking/classification"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedObject() object.TrackedObject {
	return object.TrackedObject{
		ID: 1, Length: 4, Width: 2, Height: 1.5,
		Classification: classification.Vector{0.5, 0.5},
	}
}

func paramsWith(models ...MotionModel) Params {
	p := DefaultParams()
	p.MotionModels = models
	return p
}

func newEstimator(t *testing.T, seed object.TrackedObject, p Params) *Estimator {
	t.Helper()
	e := NewEstimator()
	require.NoError(t, e.Initialize(seed, t0, p))
	return e
}

func at(seconds float64) time.Time {
	return t0.Add(secondsToDuration(seconds))
}

func TestEstimator_RequiresInitialize(t *testing.T) {
	t.Parallel()

	e := NewEstimator()
	assert.ErrorIs(t, e.Predict(0.1), ErrNotInitialized)
	assert.ErrorIs(t, e.PredictTo(t0), ErrNotInitialized)
	assert.ErrorIs(t, e.Correct(seedObject()), ErrNotInitialized)
	assert.ErrorIs(t, e.Track(seedObject(), t0), ErrNotInitialized)
	_, err := e.ErrorCovariance(0)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, object.TrackedObject{}, e.CurrentState())
	assert.False(t, e.Initialized())
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"negative process noise", func(p *Params) { p.ProcessNoise = -1 }},
		{"zero measurement noise", func(p *Params) { p.MeasurementNoise = 0 }},
		{"nan covariance", func(p *Params) { p.InitStateCovariance = math.NaN() }},
		{"no models", func(p *Params) { p.MotionModels = nil }},
		{"duplicate model", func(p *Params) { p.MotionModels = []MotionModel{ConstantVelocity, ConstantVelocity} }},
		{"unknown model", func(p *Params) { p.MotionModels = []MotionModel{numMotionModels} }},
		{"stay probability", func(p *Params) { p.StayProbability = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
			assert.Error(t, NewEstimator().Initialize(seedObject(), t0, p))
		})
	}
}

func TestParseMotionModel(t *testing.T) {
	t.Parallel()

	for _, m := range []MotionModel{ConstantVelocity, ConstantAcceleration, ConstantPosition, ConstantTurnRateVelocity} {
		got, err := ParseMotionModel(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseMotionModel(" ctrv ")
	require.NoError(t, err)
	assert.Equal(t, ConstantTurnRateVelocity, got)

	_, err = ParseMotionModel("bicycle")
	assert.Error(t, err)
	assert.Equal(t, "MotionModel(9)", MotionModel(9).String())
}

func TestEstimator_InitializeSeedsState(t *testing.T) {
	t.Parallel()

	seed := seedObject()
	seed.X, seed.Y, seed.VX, seed.Yaw = 3, 4, 1, 0.2
	e := newEstimator(t, seed, DefaultParams())

	s := e.CurrentState()
	assert.Equal(t, int64(1), s.ID)
	assert.InDelta(t, 3.0, s.X, 1e-12)
	assert.InDelta(t, 1.0, s.VX, 1e-12)
	assert.False(t, s.Corrected)
	assert.Len(t, s.ErrorCovariance, object.StateSize*object.StateSize)
	assert.Len(t, s.PredictedMeasurementMean, object.MeasurementSize)
	assert.Len(t, e.CurrentStates(), 3)
	assert.Equal(t, t0, e.Timestamp())

	probs := e.ModelProbability()
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, probs, 1e-12)
}

func TestEstimator_PredictDurationMatchesTimestamp(t *testing.T) {
	t.Parallel()

	seed := seedObject()
	seed.VX, seed.VY = 1.5, -0.5

	byDelta := newEstimator(t, seed, DefaultParams())
	byTime := newEstimator(t, seed, DefaultParams())

	const dt = 0.123561
	require.NoError(t, byDelta.Predict(dt))
	require.NoError(t, byTime.PredictTo(at(dt)))

	assert.Equal(t, byTime.Timestamp(), byDelta.Timestamp())
	a, b := byDelta.CurrentState(), byTime.CurrentState()
	assert.InDeltaSlice(t, a.StateVector(), b.StateVector(), 1e-12)
	assert.False(t, a.Corrected)
	assert.InDelta(t, 1.5*dt, a.X, 1e-6)
}

func TestEstimator_PredictRejectsBadTime(t *testing.T) {
	t.Parallel()

	e := newEstimator(t, seedObject(), DefaultParams())
	assert.ErrorIs(t, e.Predict(-0.1), ErrNegativeTimeStep)
	assert.ErrorIs(t, e.Predict(math.NaN()), ErrNegativeTimeStep)
	assert.ErrorIs(t, e.PredictTo(t0.Add(-time.Millisecond)), ErrStaleTimestamp)
}

func TestEstimator_PredictDoesNotMoveAcceptedState(t *testing.T) {
	t.Parallel()

	seed := seedObject()
	seed.VX = 2
	e := newEstimator(t, seed, paramsWith(ConstantVelocity))

	require.NoError(t, e.PredictTo(at(1)))
	require.NoError(t, e.PredictTo(at(2)))
	// Both predictions start from the seed, not from each other.
	assert.InDelta(t, 4.0, e.CurrentState().X, 1e-9)

	// Predicting back to an instant between the seed and the last prediction
	// is allowed because the accepted state has not moved.
	require.NoError(t, e.PredictTo(at(0.5)))
	assert.InDelta(t, 1.0, e.CurrentState().X, 1e-9)
}

func TestEstimator_ConstantVelocityConverges(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		models []MotionModel
		tol    float64
	}{
		{"cv only", []MotionModel{ConstantVelocity}, 0.01},
		{"default bank", DefaultMotionModels(), 0.1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEstimator(t, seedObject(), paramsWith(tc.models...))

			const vx, vy = 2.0, 1.0
			for k := 1; k <= 100; k++ {
				ts := float64(k) * 0.1
				m := seedObject()
				m.X, m.Y = vx*ts, vy*ts
				require.NoError(t, e.Track(m, at(ts)))
			}

			s := e.CurrentState()
			assert.True(t, s.Corrected)
			assert.InDelta(t, vx, s.VX, tc.tol)
			assert.InDelta(t, vy, s.VY, tc.tol)
			assert.InDelta(t, vx*10, s.X, tc.tol)
			assert.InDelta(t, vy*10, s.Y, tc.tol)
		})
	}
}

func TestEstimator_ModelProbabilitiesStayNormalised(t *testing.T) {
	t.Parallel()

	p := paramsWith(ConstantVelocity, ConstantAcceleration, ConstantPosition, ConstantTurnRateVelocity)
	e := newEstimator(t, seedObject(), p)

	check := func() {
		probs := e.ModelProbability()
		var sum float64
		for _, v := range probs {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	// accelerate, then stop
	for k := 1; k <= 60; k++ {
		ts := float64(k) * 0.1
		x := 0.5 * 1.5 * ts * ts
		if ts > 3 {
			x = 0.5 * 1.5 * 9
		}
		m := seedObject()
		m.X = x
		require.NoError(t, e.PredictTo(at(ts)))
		check()
		require.NoError(t, e.Correct(m))
		check()
	}

	trans := e.TransitionProbability()
	r, c := trans.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 4, c)
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1.0, mat.Sum(trans.RowView(i)), 1e-12)
	}

	cond := e.ConditionalProbability()
	for j := 0; j < c; j++ {
		assert.InDelta(t, 1.0, mat.Sum(cond.ColView(j)), 1e-9)
	}
}

func TestEstimator_StationaryCovarianceShrinks(t *testing.T) {
	t.Parallel()

	e := newEstimator(t, seedObject(), paramsWith(ConstantVelocity))
	trace := func() float64 {
		p, err := e.ErrorCovariance(0)
		require.NoError(t, err)
		return mat.Trace(p)
	}

	prev := trace()
	initial := prev
	for k := 1; k <= 50; k++ {
		require.NoError(t, e.Track(seedObject(), at(float64(k)*0.1)))
		cur := trace()
		assert.LessOrEqual(t, cur, prev+1e-9, "step %d", k)
		prev = cur
	}
	assert.Less(t, prev, initial/100)
}

func TestEstimator_FusedCovarianceShrinks(t *testing.T) {
	t.Parallel()

	e := newEstimator(t, seedObject(), DefaultParams())
	trace := func() float64 {
		p := e.CurrentState().ErrorCovariance
		n := int(math.Round(math.Sqrt(float64(len(p)))))
		require.Equal(t, n*n, len(p))
		var tr float64
		for i := 0; i < n; i++ {
			tr += p[i*n+i]
		}
		return tr
	}

	prev := trace()
	initial := prev
	for k := 1; k <= 50; k++ {
		require.NoError(t, e.Track(seedObject(), at(float64(k)*0.1)))
		cur := trace()
		assert.LessOrEqual(t, cur, prev+1e-9, "step %d", k)
		prev = cur
	}
	assert.Less(t, prev, initial)

	s := e.CurrentState()
	assert.InDelta(t, 0, s.X, 1e-6)
	assert.InDelta(t, 0, s.Y, 1e-6)
}

func TestEstimator_YawAcrossBranchCut(t *testing.T) {
	t.Parallel()

	seed := seedObject()
	seed.Yaw = math.Pi - 0.05
	e := newEstimator(t, seed, paramsWith(ConstantVelocity))

	for k := 1; k <= 10; k++ {
		m := seedObject()
		m.Yaw = -math.Pi + 0.05 // same heading, other side of the cut
		require.NoError(t, e.Track(m, at(float64(k)*0.1)))
	}

	yaw := e.CurrentState().Yaw
	assert.Less(t, math.Abs(object.AngleDifference(yaw, -math.Pi+0.05)), 0.02)
	assert.Greater(t, math.Abs(yaw), math.Pi-0.1, "estimate must stay near ±π, got %v", yaw)
}

func TestEstimator_TurnRateIsEstimated(t *testing.T) {
	t.Parallel()

	const radius, omega = 10.0, 0.5
	seed := seedObject()
	seed.VX = radius * omega
	e := newEstimator(t, seed, paramsWith(ConstantTurnRateVelocity))

	for k := 1; k <= 50; k++ {
		ts := float64(k) * 0.1
		m := seedObject()
		m.X = radius * math.Sin(omega*ts)
		m.Y = radius * (1 - math.Cos(omega*ts))
		m.Yaw = omega * ts
		require.NoError(t, e.Track(m, at(ts)))
	}

	s := e.CurrentState()
	assert.InDelta(t, omega, s.TurnRate, 0.05)
	assert.InDelta(t, radius*omega, s.Speed(), 0.1)
}

func TestEstimator_ClassificationFusion(t *testing.T) {
	t.Parallel()

	e := newEstimator(t, seedObject(), DefaultParams())

	m := seedObject()
	m.Classification = classification.Vector{0.9, 0.1}
	require.NoError(t, e.Track(m, at(0.1)))
	assert.InDeltaSlice(t, []float64{0.9, 0.1}, e.CurrentState().Classification, 1e-12)

	// disjoint evidence: the new observation is adopted
	e2 := newEstimator(t, object.TrackedObject{Classification: classification.Vector{1, 0}}, DefaultParams())
	require.NoError(t, e2.Track(object.TrackedObject{Classification: classification.Vector{0, 1}}, at(0.1)))
	assert.Equal(t, classification.Vector{0, 1}, e2.CurrentState().Classification)

	// a measurement without class evidence leaves the vector untouched
	bare := seedObject()
	bare.Classification = nil
	require.NoError(t, e.Track(bare, at(0.2)))
	assert.InDeltaSlice(t, []float64{0.9, 0.1}, e.CurrentState().Classification, 1e-12)
}

func TestEstimator_AttributesMerged(t *testing.T) {
	t.Parallel()

	seed := seedObject()
	seed.Attributes = &object.Attributes{}
	seed.Attributes.Set("color", "red")
	e := newEstimator(t, seed, DefaultParams())

	m := seedObject()
	m.Attributes = &object.Attributes{}
	m.Attributes.Set("color", "blue")
	m.Attributes.Set("plate", "X1")
	require.NoError(t, e.Track(m, at(0.1)))

	attrs := e.CurrentState().Attributes
	assert.Equal(t, []string{"color", "plate"}, attrs.Keys())
	v, _ := attrs.Get("color")
	assert.Equal(t, "blue", v)
}

func TestEstimator_CorrectRejectsNonFinite(t *testing.T) {
	t.Parallel()

	e := newEstimator(t, seedObject(), DefaultParams())
	m := seedObject()
	m.X = math.Inf(1)
	assert.ErrorIs(t, e.Correct(m), object.ErrInvalidObject)
}

func TestEstimator_CovarianceAccessors(t *testing.T) {
	t.Parallel()

	e := newEstimator(t, seedObject(), DefaultParams())
	require.NoError(t, e.Predict(0.1))

	_, err := e.ErrorCovariance(2)
	require.NoError(t, err)
	p, err := e.ErrorCovariance(0)
	require.NoError(t, err)
	assert.Equal(t, object.StateSize, p.SymmetricDim())

	s, err := e.MeasurementCovariance(0)
	require.NoError(t, err)
	assert.Equal(t, object.MeasurementSize, s.SymmetricDim())
	assert.Greater(t, s.At(0, 0), p.At(0, 0))

	_, err = e.ErrorCovariance(3)
	assert.ErrorIs(t, err, ErrModelIndex)
	_, err = e.MeasurementCovariance(-1)
	assert.ErrorIs(t, err, ErrModelIndex)
}

func TestEstimator_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	e := newEstimator(t, seedObject(), DefaultParams())
	c := e.Clone()

	m := seedObject()
	m.X = 5
	require.NoError(t, e.Track(m, at(0.1)))

	assert.InDelta(t, 0.0, c.CurrentState().X, 1e-12)
	assert.Equal(t, t0, c.Timestamp())
	assert.Greater(t, e.CurrentState().X, 4.0)
}

func TestRepairCovariance(t *testing.T) {
	t.Parallel()

	p := mat.NewSymDense(2, []float64{1, 2, 2, 1}) // eigenvalues 3 and -1
	assert.True(t, repairCovariance(p, 1))
	var chol mat.Cholesky
	assert.True(t, chol.Factorize(p))

	good := mat.NewSymDense(2, []float64{2, 0, 0, 1})
	assert.False(t, repairCovariance(good, 1))

	bad := mat.NewSymDense(2, []float64{math.NaN(), 0, 0, 1})
	assert.True(t, repairCovariance(bad, 3))
	assert.Equal(t, 3.0, bad.At(0, 0))
	assert.Equal(t, 3.0, bad.At(1, 1))
}

func TestLinearTransitionMatchesPropagate(t *testing.T) {
	t.Parallel()

	x := []float64{1, 2, 0.5, 3, -1, 0.2, 0.1, 4, 2, 1.5, 0.3, 0.05}
	for _, m := range []MotionModel{ConstantVelocity, ConstantAcceleration, ConstantPosition} {
		f := linearTransition(m, 0.2)
		var want mat.VecDense
		want.MulVec(f, mat.NewVecDense(len(x), x))

		got := make([]float64, len(x))
		propagate(m, got, x, 0.2)
		assert.InDeltaSlice(t, want.RawVector().Data, got, 1e-12, m.String())
	}
}
