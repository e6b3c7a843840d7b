// Package imm implements an Interacting Multiple Model estimator: a bank of
// Kalman filters, one per motion model, whose estimates are mixed before each
// prediction and fused after each correction according to the running model
// probabilities.
//
// All models share the object.StateSize layout. The linear models (constant
// position, velocity, acceleration) use closed-form transitions; the
// constant-turn-rate model is linearised numerically (extended Kalman
// filter). Covariances are updated in Joseph form and repaired back to
// symmetric positive definite when rounding breaks that property.
//
// An Estimator is not safe for concurrent use. It belongs to exactly one
// track.
package imm
