package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"sentinel/metrics"
	"sentinel/util/goroutine"

	"go.uber.org/zap"
)

// WorkerPool runs queued tasks on a fixed set of goroutines. The engine
// uses one pool for event evaluation and one for channel delivery so that
// the triggering call never blocks on provider I/O.
type WorkerPool struct {
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
	poolType  string
}

// Worker pool errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
	ErrWorkerPoolTimeout    = errors.New("worker pool task submission timed out")
)

// NewWorkerPool creates a worker pool. Workers do not start until Start is
// called; cancelling parentCtx stops them, as does Stop.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	if poolType == "" {
		poolType = "default"
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		poolType:  poolType,
	}
}

// Start begins processing tasks.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return nil
	}

	wp.running = true
	wp.logger.Infof("Starting %s worker pool with %d workers and queue size %d", wp.poolType, wp.workers, wp.queueSize)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	return nil
}

// Stop shuts the pool down and waits for in-flight tasks, with a timeout
// so a hung provider call cannot deadlock shutdown.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		return
	}

	wp.running = false
	wp.logger.Infow("Stopping worker pool", "pool_type", wp.poolType, "workers", wp.workers)

	wp.cancel()
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool_type", wp.poolType)
	case <-time.After(30 * time.Second):
		wp.logger.Errorw("Worker pool shutdown timed out, goroutines leaked",
			"pool_type", wp.poolType,
			"workers", wp.workers)
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(-1)
	}
}

// Submit queues a task without blocking; a full queue is an error the
// caller decides how to handle.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// SubmitWithTimeout queues a task, waiting up to timeout for queue space.
func (wp *WorkerPool) SubmitWithTimeout(task func(), timeout time.Duration) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case wp.taskCh <- task:
		return nil
	case <-ctx.Done():
		return ErrWorkerPoolTimeout
	}
}

// WorkerPoolStats describes the pool's current state.
type WorkerPoolStats struct {
	Workers     int  `json:"workers"`
	QueueSize   int  `json:"queue_size"`
	Running     bool `json:"running"`
	QueuedTasks int  `json:"queued_tasks"`
	Capacity    int  `json:"capacity"`
}

// GetStats returns current pool statistics.
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Workers:     wp.workers,
		QueueSize:   wp.queueSize,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
		Capacity:    cap(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool", wp.logger)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						wp.logger.Errorw("Task panicked in worker",
							"worker_id", id,
							"pool_type", wp.poolType,
							"panic", r)
					}
				}()
				task()
				metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolType).Inc()
			}()
		}
	}
}
