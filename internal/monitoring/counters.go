package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counter names used by the tracking engine.
const (
	CovarianceRepairs     = "covariance_repairs"
	NonFiniteDistances    = "non_finite_distances"
	DroppedMeasurements   = "dropped_measurements"
	DroppedChunks         = "dropped_chunks"
	DegenerateClassUpdate = "degenerate_classification_updates"
	FailedCorrections     = "failed_corrections"
)

// Counters is a set of named monotonically increasing counters.
type Counters struct {
	mu     sync.RWMutex
	values map[string]*atomic.Int64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]*atomic.Int64)}
}

// Default is the process-wide counter set.
var Default = NewCounters()

// Inc adds one to the named counter.
func (c *Counters) Inc(name string) {
	c.Add(name, 1)
}

// Add adds n to the named counter.
func (c *Counters) Add(name string, n int64) {
	c.mu.RLock()
	v, ok := c.values[name]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if v, ok = c.values[name]; !ok {
			v = new(atomic.Int64)
			c.values[name] = v
		}
		c.mu.Unlock()
	}
	v.Add(n)
}

// Get returns the current value of the named counter (0 if never touched).
func (c *Counters) Get(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[name]; ok {
		return v.Load()
	}
	return 0
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v.Load()
	}
	return out
}

// Names returns the sorted counter names.
func (c *Counters) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Reset zeroes every counter.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]*atomic.Int64)
}
