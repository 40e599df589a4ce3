package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrPoolClosed is returned by Submit once the pool has begun draining.
var ErrPoolClosed = errors.New("orchestrator: pool is shut down")

// Pool is a bounded worker pool for background job execution. Submission
// blocks once the queue is full, making backpressure explicit, and shutdown
// drains queued work before Start returns.
type Pool struct {
	id     string
	run    func(ctx context.Context, jobID string)
	tasks  chan string
	quit   chan struct{}
	logger *slog.Logger

	size int

	once sync.Once
	wg   sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(size, depth int, run func(ctx context.Context, jobID string), logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if depth < 1 {
		depth = size
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		id:     uuid.New().String(),
		run:    run,
		tasks:  make(chan string, depth),
		quit:   make(chan struct{}),
		logger: logger,
		size:   size,
	}
}

// Start runs the workers. It blocks until ctx is cancelled and all accepted
// work has drained. Cancellation stops intake, not execution: workers run on
// a context detached from ctx, so jobs accepted before shutdown still reach
// a terminal state and their storage writes commit.
func (p *Pool) Start(ctx context.Context) error {
	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(runCtx)
	}

	<-ctx.Done()
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
	p.logger.Info("execution pool drained", "pool_id", p.id)
	return ctx.Err()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case jobID := <-p.tasks:
			p.run(ctx, jobID)
		case <-p.quit:
			// Drain whatever was accepted before shutdown began.
			for {
				select {
				case jobID := <-p.tasks:
					p.run(ctx, jobID)
				default:
					return
				}
			}
		}
	}
}

// Submit enqueues a job for background execution. It blocks while the
// queue is full and returns ErrPoolClosed once draining has begun.
func (p *Pool) Submit(ctx context.Context, jobID string) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- jobID:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
