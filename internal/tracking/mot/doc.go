// Package mot drives a track manager from batches of measurements.
//
// MultipleObjectTracker associates measurements with tracks before updating
// them; a batch may hold several cameras' simultaneous detections that are
// matched against one shared track pool. TrackTracker skips association and
// routes each measurement by the id it already carries.
//
// A cycle is: predict every track to the batch timestamp, associate,
// buffer measurements, create tracks for confident unmatched measurements,
// then correct and run the lifecycle sweep.
package mot
