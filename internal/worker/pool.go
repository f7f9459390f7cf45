// Package worker runs background jobs, chiefly proactive token refreshes,
// on a bounded goroutine pool with a small retry budget.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of background work.
type Task interface {
	// Name identifies the task in logs and dead-letter inspection.
	Name() string
	Process(ctx context.Context) error
}

// Pool is a fixed-size worker pool with a buffered queue. Submit applies
// backpressure rather than blocking; tasks that exhaust their retries land
// in the dead-letter list.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger

	workers    int
	tasks      chan Task
	maxRetries int
	retryDelay time.Duration

	stopMu  sync.Mutex
	stopped bool

	deadMu sync.Mutex
	dead   []Task
}

// Stats holds a snapshot of pool state for monitoring.
type Stats struct {
	Workers     int
	QueueLength int
	DeadLetters int
}

// NewPool creates a pool. workers and queueCap below 1 are clamped.
func NewPool(workers, queueCap int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueCap < 1 {
		queueCap = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		workers:    workers,
		tasks:      make(chan Task, queueCap),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Stop drains the queue, waits for the workers to exit, then releases the
// pool context. Queued tasks still run to completion, retries included.
// Safe to call more than once.
func (p *Pool) Stop() {
	p.stopMu.Lock()
	if p.stopped {
		p.stopMu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.stopMu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Submit enqueues a task. Returns false when the queue is full or the pool
// has stopped.
func (p *Pool) Submit(task Task) bool {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()
	if p.stopped {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.processWithRetry(task)
		}
	}
}

func (p *Pool) processWithRetry(task Task) {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
		}
		lastErr = task.Process(p.ctx)
		if lastErr == nil {
			return
		}
		p.logger.Warn("task failed",
			zap.String("task", task.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	p.deadMu.Lock()
	p.dead = append(p.dead, task)
	p.deadMu.Unlock()
	p.logger.Error("task moved to dead letter",
		zap.String("task", task.Name()), zap.Error(lastErr))
}

// DeadLetterCount returns how many tasks exhausted their retries.
func (p *Pool) DeadLetterCount() int {
	p.deadMu.Lock()
	defer p.deadMu.Unlock()
	return len(p.dead)
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:     p.workers,
		QueueLength: len(p.tasks),
		DeadLetters: p.DeadLetterCount(),
	}
}
