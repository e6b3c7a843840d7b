// Package object defines TrackedObject, the state record shared by
// measurements, track estimates and exported snapshots, together with the
// fixed state and measurement vector layouts and wrapped angle arithmetic.
package object
