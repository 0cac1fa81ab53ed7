package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrQueueFull is returned by TrySubmit when every queue slot is taken.
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is one unit of work. The context carries the per-task timeout.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a fixed number of goroutines from a bounded
// queue. Task errors and panics are logged and counted, never propagated.
type WorkerPool struct {
	name    string
	timeout time.Duration
	log     logrus.FieldLogger

	work   chan Task
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	failed atomic.Int64
}

// NewWorkerPool starts workers goroutines reading from a queue of size
// queue. Each task runs under timeout.
func NewWorkerPool(ctx context.Context, workers, queue int, name string, timeout time.Duration, log logrus.FieldLogger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &WorkerPool{
		name:    name,
		timeout: timeout,
		log:     log.WithField("pool", name),
		work:    make(chan Task, queue),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range p.work {
				p.run(task)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()

	return p
}

// Submit queues task, blocking while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.work <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues task without blocking.
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.work <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Failed returns how many tasks returned an error or panicked.
func (p *WorkerPool) Failed() int64 {
	return p.failed.Load()
}

// Shutdown stops accepting tasks and waits up to timeout for queued tasks to
// drain. Running tasks are cancelled when the timeout passes.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.work)
		p.mu.Unlock()

		select {
		case <-p.done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %s shutdown timed out after %v", p.name, timeout)
		}
		p.cancel()
	})
	return err
}

func (p *WorkerPool) run(task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.log.WithFields(logrus.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("task panicked")
		}
	}()

	if err := task(ctx); err != nil {
		p.failed.Add(1)
		p.log.WithError(err).Warn("task failed")
	}
}
