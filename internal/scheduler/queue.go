// Package scheduler queues regeneration work and drains it in bounded
// batches so a large vault never monopolises the processor.
package scheduler

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/navigator/internal/models"
)

// Job is pending regeneration work for one path.
type Job struct {
	Path        string
	Fields      models.Field
	Fingerprint models.Fingerprint
}

// Processor handles one batch. It runs on the scheduler goroutine.
type Processor func(ctx context.Context, batch []Job)

// Options configure batching.
type Options struct {
	MaxBatch     int
	TickInterval time.Duration
}

// Queue is FIFO with coalescing: enqueuing a queued path merges into its
// existing job and keeps its position.
type Queue struct {
	mu    sync.Mutex
	order *list.List // of *Job
	jobs  map[string]*list.Element

	opts    Options
	process Processor
	logger  *slog.Logger

	wake    chan struct{}
	stopped atomic.Bool
	busy    atomic.Bool
	idle    *sync.Cond
}

// New creates a queue that hands batches to process.
func New(opts Options, process Processor, logger *slog.Logger) *Queue {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 50
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		order:   list.New(),
		jobs:    make(map[string]*list.Element),
		opts:    opts,
		process: process,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds job or merges it into the queued job for the same path: the
// field sets are united and the newest fingerprint wins.
func (q *Queue) Enqueue(job Job) {
	if q.stopped.Load() || job.Fields == 0 {
		return
	}
	q.mu.Lock()
	if el, ok := q.jobs[job.Path]; ok {
		queued := el.Value.(*Job)
		queued.Fields |= job.Fields
		queued.Fingerprint = job.Fingerprint
	} else {
		j := job
		q.jobs[job.Path] = q.order.PushBack(&j)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Remove drops the queued job for path, if any.
func (q *Queue) Remove(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if el, ok := q.jobs[path]; ok {
		q.order.Remove(el)
		delete(q.jobs, path)
		q.signalIdle()
	}
}

// Rename moves a queued job to a new path, merging with any job already
// queued there.
func (q *Queue) Rename(oldPath, newPath string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.jobs[oldPath]
	if !ok {
		return
	}
	job := el.Value.(*Job)
	delete(q.jobs, oldPath)
	if target, ok := q.jobs[newPath]; ok {
		t := target.Value.(*Job)
		t.Fields |= job.Fields
		q.order.Remove(el)
		return
	}
	job.Path = newPath
	q.jobs[newPath] = el
}

// Pending returns the queued fields for path.
func (q *Queue) Pending(path string) models.Field {
	q.mu.Lock()
	defer q.mu.Unlock()
	if el, ok := q.jobs[path]; ok {
		return el.Value.(*Job).Fields
	}
	return 0
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// Run drains the queue until ctx is done or Stop is called. Each tick takes
// at most MaxBatch jobs and then yields for TickInterval.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.opts.TickInterval)
	defer ticker.Stop()
	defer q.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}

		for {
			if q.stopped.Load() || ctx.Err() != nil {
				return
			}
			batch := q.take()
			if len(batch) == 0 {
				break
			}
			q.runBatch(ctx, batch)

			// Yield between batches.
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.opts.TickInterval):
			}
		}
	}
}

func (q *Queue) take() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(q.opts.MaxBatch, q.order.Len())
	if n == 0 {
		return nil
	}
	batch := make([]Job, 0, n)
	for i := 0; i < n; i++ {
		el := q.order.Front()
		job := q.order.Remove(el).(*Job)
		delete(q.jobs, job.Path)
		batch = append(batch, *job)
	}
	q.busy.Store(true)
	return batch
}

func (q *Queue) runBatch(ctx context.Context, batch []Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("regeneration batch panicked", slog.Any("panic", r), slog.Int("jobs", len(batch)))
		}
		q.mu.Lock()
		q.busy.Store(false)
		q.signalIdle()
		q.mu.Unlock()
	}()
	q.process(ctx, batch)
}

// signalIdle must be called with q.mu held.
func (q *Queue) signalIdle() {
	if q.order.Len() == 0 && !q.busy.Load() {
		q.idle.Broadcast()
	}
}

// Stop refuses further work and makes Run return at its next tick. Queued
// jobs are discarded.
func (q *Queue) Stop() {
	if q.stopped.Swap(true) {
		return
	}
	q.mu.Lock()
	q.order.Init()
	q.jobs = make(map[string]*list.Element)
	q.idle.Broadcast()
	q.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (q *Queue) Stopped() bool {
	return q.stopped.Load()
}

// WaitIdle blocks until the queue is empty and no batch is running, or ctx
// is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for (q.order.Len() > 0 || q.busy.Load()) && !q.stopped.Load() && ctx.Err() == nil {
			q.idle.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so it can observe ctx and exit.
		q.mu.Lock()
		q.idle.Broadcast()
		q.mu.Unlock()
		<-done
		return ctx.Err()
	}
}
