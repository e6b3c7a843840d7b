package imm

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

// MotionModel selects the dynamics of one filter in the bank.
type MotionModel int

const (
	ConstantVelocity MotionModel = iota
	ConstantAcceleration
	ConstantPosition
	ConstantTurnRateVelocity

	numMotionModels
)

// minTurnRate below which the turning model falls back to straight-line motion.
const minTurnRate = 1e-6

var motionModelNames = [numMotionModels]string{
	ConstantVelocity:         "CV",
	ConstantAcceleration:     "CA",
	ConstantPosition:         "CP",
	ConstantTurnRateVelocity: "CTRV",
}

func (m MotionModel) String() string {
	if !m.Valid() {
		return fmt.Sprintf("MotionModel(%d)", int(m))
	}
	return motionModelNames[m]
}

// Valid reports whether m names a supported model.
func (m MotionModel) Valid() bool {
	return m >= 0 && m < numMotionModels
}

// ParseMotionModel accepts the short names (CV, CA, CP, CTRV) in any case.
func ParseMotionModel(s string) (MotionModel, error) {
	for m, name := range motionModelNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return MotionModel(m), nil
		}
	}
	return 0, fmt.Errorf("unknown motion model %q", s)
}

// DefaultMotionModels is the bank used when none is configured.
func DefaultMotionModels() []MotionModel {
	return []MotionModel{ConstantVelocity, ConstantAcceleration, ConstantTurnRateVelocity}
}

// propagate writes the state src advanced by dt seconds under model m into
// dst. The yaw is left unwrapped so the function stays smooth for
// differentiation.
func propagate(m MotionModel, dst, src []float64, dt float64) {
	copy(dst, src)
	switch m {
	case ConstantPosition:
		dst[object.IdxVX], dst[object.IdxVY] = 0, 0
		dst[object.IdxAX], dst[object.IdxAY] = 0, 0
		dst[object.IdxTurnRate] = 0

	case ConstantVelocity:
		dst[object.IdxX] += src[object.IdxVX] * dt
		dst[object.IdxY] += src[object.IdxVY] * dt
		dst[object.IdxAX], dst[object.IdxAY] = 0, 0
		dst[object.IdxTurnRate] = 0

	case ConstantAcceleration:
		half := 0.5 * dt * dt
		dst[object.IdxX] += src[object.IdxVX]*dt + src[object.IdxAX]*half
		dst[object.IdxY] += src[object.IdxVY]*dt + src[object.IdxAY]*half
		dst[object.IdxVX] += src[object.IdxAX] * dt
		dst[object.IdxVY] += src[object.IdxAY] * dt
		dst[object.IdxTurnRate] = 0

	case ConstantTurnRateVelocity:
		w := src[object.IdxTurnRate]
		vx, vy := src[object.IdxVX], src[object.IdxVY]
		if math.Abs(w) < minTurnRate {
			dst[object.IdxX] += vx * dt
			dst[object.IdxY] += vy * dt
		} else {
			s, c := math.Sincos(w * dt)
			dst[object.IdxX] += (vx*s - vy*(1-c)) / w
			dst[object.IdxY] += (vx*(1-c) + vy*s) / w
			dst[object.IdxVX] = vx*c - vy*s
			dst[object.IdxVY] = vx*s + vy*c
		}
		dst[object.IdxYaw] += w * dt
		dst[object.IdxAX], dst[object.IdxAY] = 0, 0
	}
}

// transitionJacobian returns ∂f/∂x for model m at x.
func transitionJacobian(m MotionModel, x []float64, dt float64) *mat.Dense {
	if m == ConstantTurnRateVelocity {
		jac := mat.NewDense(object.StateSize, object.StateSize, nil)
		fd.Jacobian(jac, func(y, x []float64) {
			propagate(m, y, x, dt)
		}, x, &fd.JacobianSettings{Formula: fd.Central})
		return jac
	}
	return linearTransition(m, dt)
}

// linearTransition is the closed-form transition matrix of the linear models.
func linearTransition(m MotionModel, dt float64) *mat.Dense {
	f := mat.NewDense(object.StateSize, object.StateSize, nil)
	for i := 0; i < object.StateSize; i++ {
		f.Set(i, i, 1)
	}
	zero := func(idx ...int) {
		for _, i := range idx {
			f.Set(i, i, 0)
		}
	}
	switch m {
	case ConstantPosition:
		zero(object.IdxVX, object.IdxVY, object.IdxAX, object.IdxAY, object.IdxTurnRate)
	case ConstantVelocity:
		f.Set(object.IdxX, object.IdxVX, dt)
		f.Set(object.IdxY, object.IdxVY, dt)
		zero(object.IdxAX, object.IdxAY, object.IdxTurnRate)
	case ConstantAcceleration:
		half := 0.5 * dt * dt
		f.Set(object.IdxX, object.IdxVX, dt)
		f.Set(object.IdxY, object.IdxVY, dt)
		f.Set(object.IdxX, object.IdxAX, half)
		f.Set(object.IdxY, object.IdxAY, half)
		f.Set(object.IdxVX, object.IdxAX, dt)
		f.Set(object.IdxVY, object.IdxAY, dt)
		zero(object.IdxTurnRate)
	}
	return f
}
