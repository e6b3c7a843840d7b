package scene

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/timeutil"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

// Batch is the latest frame of every camera for one category.
type Batch struct {
	Category  string
	Cameras   []string
	PerCamera [][]object.TrackedObject
	Timestamp time.Time // latest camera timestamp in the batch
}

// Dispatcher hands a batch to its category's tracker. It returns false,
// without blocking, when that tracker is still busy with an earlier batch.
type Dispatcher interface {
	TryDispatch(ctx context.Context, b Batch) bool
}

type chunkEntry struct {
	objects []object.TrackedObject
	ts      time.Time
}

// Chunker buffers only the latest frame per category and camera and
// dispatches the buffer every interval.
type Chunker struct {
	clock    timeutil.Clock
	interval time.Duration
	target   Dispatcher

	mu  sync.Mutex
	buf map[string]map[string]chunkEntry // category → camera → latest frame
}

// NewChunker returns a chunker dispatching to target every interval.
func NewChunker(clock timeutil.Clock, interval time.Duration, target Dispatcher) *Chunker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Chunker{
		clock:    clock,
		interval: interval,
		target:   target,
		buf:      make(map[string]map[string]chunkEntry),
	}
}

// Add stores a camera frame for category, replacing any earlier frame from
// the same camera that has not been dispatched yet.
func (c *Chunker) Add(camera, category string, objects []object.TrackedObject, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byCam, ok := c.buf[category]
	if !ok {
		byCam = make(map[string]chunkEntry)
		c.buf[category] = byCam
	}
	byCam[camera] = chunkEntry{objects: objects, ts: ts}
}

// Pending returns the number of buffered camera frames.
func (c *Chunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byCam := range c.buf {
		n += len(byCam)
	}
	return n
}

func (c *Chunker) popAll() map[string]map[string]chunkEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf
	c.buf = make(map[string]map[string]chunkEntry)
	return out
}

// Flush dispatches everything buffered, one batch per category in name
// order. Batches for busy categories are dropped.
func (c *Chunker) Flush(ctx context.Context) {
	data := c.popAll()
	categories := make([]string, 0, len(data))
	for cat := range data {
		categories = append(categories, cat)
	}
	slices.Sort(categories)

	for _, cat := range categories {
		byCam := data[cat]
		b := Batch{Category: cat}
		for cam := range byCam {
			b.Cameras = append(b.Cameras, cam)
		}
		slices.Sort(b.Cameras)
		for _, cam := range b.Cameras {
			e := byCam[cam]
			b.PerCamera = append(b.PerCamera, e.objects)
			if e.ts.After(b.Timestamp) {
				b.Timestamp = e.ts
			}
		}

		if !c.target.TryDispatch(ctx, b) {
			logf("tracker for %q is busy, dropping %d camera frames", cat, len(b.Cameras))
			monitoring.Default.Add(monitoring.DroppedChunks, int64(len(b.Cameras)))
		}
	}
}

// Run flushes every interval until ctx is cancelled.
func (c *Chunker) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.Flush(ctx)
		}
	}
}
