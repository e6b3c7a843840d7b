// Package association pairs track predictions with incoming measurements.
//
// Match builds a gated cost matrix under one of four distance metrics and
// solves it with the Hungarian algorithm. Entries above the threshold are
// forbidden, so a track or measurement with no admissible partner is
// reported as unassigned rather than force-matched.
package association
