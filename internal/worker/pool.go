package worker

import (
	"context"
	"sync"
	"time"
)

// Task represents a unit of work for the worker pool
type Task interface {
	Process(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Process(ctx context.Context) error {
	return f(ctx)
}

type job struct {
	index int
	task  Task
}

// WorkerPool runs submitted tasks on a fixed number of goroutines and
// records each task's final error by submission index.
type WorkerPool struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	workers    int
	tasks      chan job // buffered channel for tasks
	maxRetries int
	retryable  func(error) bool
	backoff    time.Duration

	mu         sync.Mutex
	submitted  int
	retries    int
	errs       map[int]error
	deadLetter []int
	stopOnce   sync.Once
}

// PoolStats holds monitoring information about the worker pool
type PoolStats struct {
	Workers     int
	QueueLength int
	Submitted   int
	Retries     int
	DeadLetters int
}

// NewWorkerPool creates a pool with the given number of workers and queue
// capacity. Tasks stop early when ctx is cancelled.
func NewWorkerPool(ctx context.Context, workers, queueCap int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueCap < 1 {
		queueCap = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		ctx:       ctx,
		cancel:    cancel,
		workers:   workers,
		tasks:     make(chan job, queueCap),
		retryable: func(error) bool { return false },
		backoff:   100 * time.Millisecond,
		errs:      make(map[int]error),
	}
}

// SetRetryPolicy retries a failed task up to maxRetries more times while
// retryable reports true for its error.
func (p *WorkerPool) SetRetryPolicy(maxRetries int, retryable func(error) bool, backoff time.Duration) {
	p.maxRetries = maxRetries
	p.retryable = retryable
	p.backoff = backoff
}

// Start launches the worker goroutines
func (p *WorkerPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Submit adds a task to the queue and returns its index, or false if the
// queue is full.
func (p *WorkerPool) Submit(task Task) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case p.tasks <- job{index: p.submitted, task: task}:
		p.submitted++
		return p.submitted - 1, true
	default:
		return 0, false // backpressure: queue is full
	}
}

// Stop waits for queued tasks to finish and shuts the workers down. It must
// not be called concurrently with Submit.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.tasks)
		p.wg.Wait()
		p.cancel()
	})
}

// workerLoop is the main loop for each worker goroutine
func (p *WorkerPool) workerLoop() {
	defer p.wg.Done()
	for j := range p.tasks {
		if err := p.ctx.Err(); err != nil {
			p.record(j.index, err)
			continue
		}
		p.record(j.index, p.processWithRetry(j.task))
	}
}

// processWithRetry processes a task, retrying retryable errors up to
// maxRetries times.
func (p *WorkerPool) processWithRetry(task Task) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = task.Process(p.ctx)
		if err == nil || attempt >= p.maxRetries || !p.retryable(err) {
			return err
		}
		select {
		case <-p.ctx.Done():
			return err
		case <-time.After(p.backoff * time.Duration(attempt+1)):
		}
		p.mu.Lock()
		p.retries++
		p.mu.Unlock()
	}
}

func (p *WorkerPool) record(index int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.errs[index] = err
		p.deadLetter = append(p.deadLetter, index)
	}
}

// Err returns the final error of the task submitted at index, or nil.
func (p *WorkerPool) Err(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs[index]
}

// Stats returns current statistics about the worker pool
func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Workers:     p.workers,
		QueueLength: len(p.tasks),
		Submitted:   p.submitted,
		Retries:     p.retries,
		DeadLetters: len(p.deadLetter),
	}
}

// Run processes tasks with at most workers in flight and returns their
// errors in task order along with the pool's final stats.
func Run(ctx context.Context, workers int, tasks []Task, configure ...func(*WorkerPool)) ([]error, PoolStats) {
	p := NewWorkerPool(ctx, min(workers, len(tasks)), len(tasks))
	for _, fn := range configure {
		fn(p)
	}
	p.Start()
	for _, t := range tasks {
		p.Submit(t)
	}
	p.Stop()

	errs := make([]error, len(tasks))
	for i := range tasks {
		errs[i] = p.Err(i)
	}
	return errs, p.Stats()
}
