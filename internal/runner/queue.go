package runner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const persistTimeout = 10 * time.Second

type persistJob struct {
	name string
	fn   func(ctx context.Context) error
	done chan struct{}
}

// persistQueue runs storage writes one at a time, in the order they were
// queued, so a later settings snapshot never lands before an earlier one.
type persistQueue struct {
	mu     sync.Mutex
	closed bool
	jobs   chan persistJob
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func newPersistQueue(logger zerolog.Logger) *persistQueue {
	q := &persistQueue{
		jobs:   make(chan persistJob, 256),
		logger: logger,
	}
	q.wg.Add(1)
	go q.consumeLoop()
	return q
}

func (q *persistQueue) consumeLoop() {
	defer q.wg.Done()
	for job := range q.jobs {
		if job.fn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := job.fn(ctx); err != nil {
				q.logger.Error().Err(err).Str("job", job.name).Msg("failed to persist")
			}
			cancel()
		}
		if job.done != nil {
			close(job.done)
		}
	}
}

func (q *persistQueue) enqueue(name string, fn func(ctx context.Context) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn().Str("job", name).Msg("persist queue closed, dropping write")
		return
	}
	q.jobs <- persistJob{name: name, fn: fn}
}

func (q *persistQueue) flush() {
	done := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.jobs <- persistJob{name: "flush", done: done}
	q.mu.Unlock()
	<-done
}

func (q *persistQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
