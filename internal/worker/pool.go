package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"video-compiler-service/internal/service"
)

// JobProcessor handles one claimed job id (implementation: Processor).
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

// errLeaseLost cancels a job whose lease another worker took over.
var errLeaseLost = errors.New("job lease lost")

type PoolOptions struct {
	Workers int
	// LeaseTTL is how long a job lease survives without renewal. Zero means one minute.
	LeaseTTL time.Duration
}

type Pool struct {
	queue      service.Queue
	processor  JobProcessor
	workers    int
	owner      string
	leaseTTL   time.Duration
	claimDelay time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

func NewPool(queue service.Queue, processor JobProcessor, opts PoolOptions, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    opts.Workers,
		owner:      uuid.NewString(),
		leaseTTL:   opts.LeaseTTL,
		claimDelay: 5 * time.Second,
		logger:     logger,
		active:     map[string]struct{}{},
	}
}

// Run claims job ids until ctx is done. A job id that is already being
// processed by this pool, or leased by another worker process, is acked and
// dropped, so each job has one poller. Jobs interrupted by shutdown are not
// acked and return to the queue on the next start.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", "workers", p.workers, "owner", p.owner)

	jobCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				p.handle(ctx, n, jobID)
			}
		}(i + 1)
	}
	defer func() {
		close(jobCh)
		wg.Wait()
		p.logger.Info("worker pool stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, service.ErrQueueEmpty) && ctx.Err() == nil {
				p.logger.Warn("claim job", "err", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if !p.start(jobID) {
			p.logger.Info("dropping duplicate job id", "job_id", jobID)
			p.ack(ctx, jobID)
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			p.finish(jobID)
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, worker int, jobID string) {
	defer p.finish(jobID)
	log := p.logger.With("worker", worker, "job_id", jobID)

	held, err := p.queue.Lease(ctx, jobID, p.owner, p.leaseTTL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// ledger transitions are conditional, so running unleased is still safe
		log.Warn("lease job, processing without it", "err", err)
	} else if !held {
		log.Info("job leased by another worker, dropping")
		p.ack(ctx, jobID)
		return
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if held {
		stop := p.keepLease(jobCtx, cancel, jobID, log)
		defer stop()
	}

	err = p.processor.Process(jobCtx, jobID)
	if errors.Is(context.Cause(jobCtx), errLeaseLost) {
		log.Warn("job lease lost, another worker owns the job")
		p.ack(ctx, jobID)
		return
	}
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		// the row carries the outcome; the queue entry is done either way
		log.Error("process job", "err", err)
	}
	p.ack(ctx, jobID)
}

// keepLease renews the job lease until the returned stop is called, then
// releases it. Losing the lease cancels the job.
func (p *Pool) keepLease(ctx context.Context, cancel context.CancelCauseFunc, jobID string, log *slog.Logger) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.leaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := p.queue.RenewLease(ctx, jobID, p.owner, p.leaseTTL)
				switch {
				case err != nil:
					if ctx.Err() == nil {
						log.Warn("renew job lease", "err", err)
					}
				case !ok:
					cancel(errLeaseLost)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
		if err := p.queue.ReleaseLease(context.WithoutCancel(ctx), jobID, p.owner); err != nil {
			log.Warn("release job lease", "err", err)
		}
	}
}

func (p *Pool) ack(ctx context.Context, jobID string) {
	if err := p.queue.Ack(context.WithoutCancel(ctx), jobID); err != nil {
		p.logger.Error("ack job", "job_id", jobID, "err", err)
	}
}

func (p *Pool) start(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[jobID]; ok {
		return false
	}
	p.active[jobID] = struct{}{}
	return true
}

func (p *Pool) finish(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, jobID)
}
