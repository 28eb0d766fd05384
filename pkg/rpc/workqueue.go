package rpc

import (
	"context"
	"sync/atomic"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
)

// WorkQueue runs request handling on a fixed pool of workers. Work that
// would push the number of waiting items past maxSize is refused.
type WorkQueue struct {
	pool    *workerpool.WorkerPool
	ctx     context.Context
	maxSize int64
	queued  atomic.Int64
	logger  zerolog.Logger
}

// NewWorkQueue creates a queue with the given number of workers. A maxSize
// of 0 leaves the queue unbounded. Work receives ctx, which is meant to be
// cancelled only at shutdown.
func NewWorkQueue(ctx context.Context, workers int, maxSize uint32, logger zerolog.Logger) *WorkQueue {
	if workers <= 0 {
		workers = 1
	}
	logger.Info().
		Int("workers", workers).
		Uint32("max_size", maxSize).
		Msg("Starting work queue")

	return &WorkQueue{
		pool:    workerpool.New(workers),
		ctx:     ctx,
		maxSize: int64(maxSize),
		logger:  logger,
	}
}

// Post schedules work and reports whether it was accepted. Whitelisted
// callers bypass the size limit.
func (q *WorkQueue) Post(work func(ctx context.Context), isWhiteListed bool) bool {
	n := q.queued.Add(1)
	if q.maxSize > 0 && n > q.maxSize && !isWhiteListed {
		q.queued.Add(-1)
		q.logger.Warn().Int64("size", n-1).Msg("Queue is full. rejecting job")
		return false
	}
	queueSize.Set(float64(n))

	q.pool.Submit(func() {
		queueSize.Set(float64(q.queued.Add(-1)))
		work(q.ctx)
	})
	return true
}

// Size is the number of accepted items not yet started.
func (q *WorkQueue) Size() int64 {
	return q.queued.Load()
}

// Report describes the queue for server_info counters.
func (q *WorkQueue) Report() map[string]any {
	return map[string]any{
		"queued":   q.queued.Load(),
		"max_size": q.maxSize,
		"waiting":  q.pool.WaitingQueueSize(),
	}
}

// Stop waits for accepted work to finish.
func (q *WorkQueue) Stop() {
	q.pool.StopWait()
}
