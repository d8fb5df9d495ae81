package producer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aigrc/govevents/internal/events"
)

// Buffer lifecycle states (§4.C12: Fresh → Running → Disposed, terminal).
const (
	bufferStateFresh int32 = iota
	bufferStateRunning
	bufferStateDisposed
)

// FlushErrorFunc is invoked when a flush fails; failedEvents are the events
// from that flush attempt, which are NOT re-buffered (best-effort
// semantics per §4.C9).
type FlushErrorFunc func(err error, failedEvents []*events.GovernanceEvent)

// BufferConfig configures a Buffer's flush triggers and chunking.
type BufferConfig struct {
	// MaxSize triggers a flush once the buffer reaches this many events.
	MaxSize int
	// FlushInterval triggers a flush on a timer, provided the buffer is
	// non-empty when the timer fires.
	FlushInterval time.Duration
	// FlushOnCritical triggers an immediate flush when a critical event
	// is added.
	FlushOnCritical bool
	// MaxBatchSize bounds the chunk size used when flushing via the batch
	// channel; flushes larger than this are split into sequential
	// chunked batches.
	MaxBatchSize int
	// OnFlushError is called, if non-nil, when a flush fails.
	OnFlushError FlushErrorFunc
}

const (
	defaultMaxSize       = 100
	defaultFlushInterval = 10 * time.Second
	defaultMaxBatchSize  = 100
)

// Buffer is an in-memory, best-effort batching layer in front of a Client.
// add/addMany are synchronous; flushes run on background goroutines, whose
// completion is tracked so Pending() reflects both buffered and in-flight
// events.
type Buffer struct {
	client *Client
	config BufferConfig

	mu     sync.Mutex
	events []*events.GovernanceEvent

	state    atomic.Int32
	inFlight atomic.Int64

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewBuffer constructs a Buffer over client and starts its flush timer.
// Zero-valued MaxSize/FlushInterval/MaxBatchSize fall back to sensible
// defaults.
func NewBuffer(client *Client, config BufferConfig) *Buffer {
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}

	if config.FlushInterval <= 0 {
		config.FlushInterval = defaultFlushInterval
	}

	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaultMaxBatchSize
	}

	b := &Buffer{
		client: client,
		config: config,
		done:   make(chan struct{}),
	}

	b.state.Store(bufferStateRunning)
	b.ticker = time.NewTicker(config.FlushInterval)

	go b.runTimer()

	return b
}

// Add appends a single event, triggering a flush if the buffer has reached
// MaxSize or event is critical and FlushOnCritical is set.
func (b *Buffer) Add(event *events.GovernanceEvent) error {
	return b.AddMany([]*events.GovernanceEvent{event})
}

// AddMany appends events, triggering a flush under the same conditions as
// Add.
func (b *Buffer) AddMany(evts []*events.GovernanceEvent) error {
	if b.state.Load() == bufferStateDisposed {
		return ErrDisposed
	}

	shouldFlush := false

	b.mu.Lock()
	b.events = append(b.events, evts...)

	if len(b.events) >= b.config.MaxSize {
		shouldFlush = true
	}

	if b.config.FlushOnCritical {
		for _, e := range evts {
			if e.Criticality == events.CriticalityCritical {
				shouldFlush = true

				break
			}
		}
	}
	b.mu.Unlock()

	if shouldFlush {
		b.triggerFlush()
	}

	return nil
}

// Pending returns the number of events not yet acknowledged: buffered plus
// in-flight.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	size := len(b.events)
	b.mu.Unlock()

	return size + int(b.inFlight.Load())
}

// Flush synchronously drains the buffer, chunking per MaxBatchSize and
// routing each chunk per §4.C9 (1 event → Sync, 2+ → Batch).
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.inFlight.Add(int64(len(pending)))
	b.mu.Unlock()

	defer b.inFlight.Add(-int64(len(pending)))

	if len(pending) == 0 {
		return
	}

	for start := 0; start < len(pending); start += b.config.MaxBatchSize {
		end := start + b.config.MaxBatchSize
		if end > len(pending) {
			end = len(pending)
		}

		b.flushChunk(ctx, pending[start:end])
	}
}

// flushChunk routes a single chunk to Sync or Batch and reports failures
// via OnFlushError.
func (b *Buffer) flushChunk(ctx context.Context, chunk []*events.GovernanceEvent) {
	var err error

	switch len(chunk) {
	case 0:
		return
	case 1:
		_, err = b.client.Push(ctx, chunk[0])
	default:
		_, err = b.client.PushBatch(ctx, chunk)
	}

	if err != nil && b.config.OnFlushError != nil {
		b.config.OnFlushError(err, chunk)
	}
}

// triggerFlush runs a flush on a background goroutine, tracked via wg so
// Dispose can wait for in-flight flushes to finish.
func (b *Buffer) triggerFlush() {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		b.Flush(context.Background())
	}()
}

// runTimer flushes on FlushInterval while the buffer is non-empty.
func (b *Buffer) runTimer() {
	for {
		select {
		case <-b.ticker.C:
			b.mu.Lock()
			empty := len(b.events) == 0
			b.mu.Unlock()

			if !empty {
				b.triggerFlush()
			}
		case <-b.done:
			return
		}
	}
}

// Dispose performs a final flush, stops the timer, and marks the buffer
// terminal. Subsequent Add/AddMany calls fail with ErrDisposed. Dispose is
// idempotent — a second call is a no-op.
func (b *Buffer) Dispose() {
	if !b.state.CompareAndSwap(bufferStateRunning, bufferStateDisposed) {
		if !b.state.CompareAndSwap(bufferStateFresh, bufferStateDisposed) {
			return
		}
	}

	b.ticker.Stop()
	close(b.done)

	b.Flush(context.Background())
	b.wg.Wait()
}
