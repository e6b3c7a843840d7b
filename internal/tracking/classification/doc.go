// Package classification holds per-class probability vectors and the
// fusion and comparison functions applied to them when a track absorbs a
// measurement or is compared against one.
//
// Vectors index a fixed class list owned by a Data value. Every vector that
// meets another vector in Combine, Distance or Similarity must have the same
// length; mismatches are reported as ErrLengthMismatch and never silently
// truncated.
package classification
