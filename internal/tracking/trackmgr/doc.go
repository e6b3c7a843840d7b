// Package trackmgr owns the set of live tracks: their estimators, their
// lifecycle status and the per-cycle bookkeeping that moves a track between
// statuses.
//
// A cycle is Predict (or PredictTo), zero or more SetMeasurement calls, then
// Correct. Correct absorbs the buffered measurements, counts misses for the
// tracks that received none, and runs the status sweep.
//
//	New ──hits≥MaxUnreliable──▶ Reliable ◀──hit── Drifting
//	 │                            │  ▲                 ▲
//	 │                   static,  │  │ reactivation    │ dynamic,
//	 │                   misses   ▼  │ hits            │ misses > half
//	 │                          Suspended              │
//	 └──── misses ≥ NonMeasurementFramesDynamic ───▶ Deleted
package trackmgr
