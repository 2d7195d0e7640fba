package metering

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter is the interface used by Collector to persist invocations.
type BatchInserter interface {
	BatchInsert(ctx context.Context, invs []Invocation) error
}

// Collector buffers invocations in memory and periodically flushes them to the
// store in batches. It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	buffer        []Invocation
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
}

// NewCollector creates a new Collector that flushes to the given store when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	return &Collector{
		store:         store,
		buffer:        make([]Invocation, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// Run flushes buffered invocations on a timer until ctx is cancelled or Stop
// is called, then performs a final flush. It always returns nil so it can be
// run under an errgroup.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return nil
		case <-c.done:
			c.flush()
			return nil
		}
	}
}

// Record adds an invocation to the buffer. A full buffer is flushed
// immediately on the caller's goroutine.
func (c *Collector) Record(inv Invocation) {
	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now().UTC()
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, inv)
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		c.flush()
	}
}

// Pending returns the number of buffered invocations.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Invocation, 0, c.batchSize)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.BatchInsert(ctx, batch); err != nil {
		slog.Error("failed to flush tool invocations", "count", len(batch), "error", err)
	}
}

// Stop signals Run to exit after a final flush. It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
