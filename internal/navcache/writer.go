package navcache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/navigator/internal/metrics"
	"github.com/starford/navigator/internal/store"
)

// writeOp is one deferred store mutation.
type writeOp struct {
	name string
	fn   func(db *store.DB) error
	done chan struct{} // barrier when non-nil
}

// writer applies store mutations in FIFO order on its own goroutine so
// index mutations never wait on disk.
type writer struct {
	db     *store.DB
	logger *slog.Logger

	mu     sync.Mutex
	ops    []writeOp
	closed bool
	wake   chan struct{}
}

func newWriter(db *store.DB, logger *slog.Logger) *writer {
	return &writer{db: db, logger: logger, wake: make(chan struct{}, 1)}
}

// enqueue schedules fn. It never blocks. Ops submitted after shutdown are dropped.
func (w *writer) enqueue(name string, fn func(db *store.DB) error) {
	w.push(writeOp{name: name, fn: fn})
}

func (w *writer) push(op writeOp) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.ops = append(w.ops, op)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// flush waits until every op enqueued before the call has been applied.
func (w *writer) flush(ctx context.Context) error {
	done := make(chan struct{})
	if !w.push(writeOp{name: "flush", done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.closed = true
			w.mu.Unlock()
			// Drain what was accepted before shutdown.
			w.apply()
			return
		case <-w.wake:
			w.apply()
		}
	}
}

func (w *writer) apply() {
	w.mu.Lock()
	ops := w.ops
	w.ops = nil
	w.mu.Unlock()

	for _, op := range ops {
		if op.done != nil {
			close(op.done)
			continue
		}
		if err := op.fn(w.db); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues(op.name).Inc()
			w.logger.Warn("navcache: store write failed",
				slog.String("op", op.name),
				slog.String("error", err.Error()),
			)
		}
	}
}
