package engine

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	ErrPoolShutdown  = errors.New("worker service is shut down")
	ErrPoolSaturated = errors.New("worker service is saturated")
)

// WorkerOptions bounds the worker service. Zero values fall back to
// [DefaultWorkerOptions].
type WorkerOptions struct {
	// MinWorkers goroutines start immediately; up to MaxWorkers are
	// added while the task queue is non-empty.
	MinWorkers int
	MaxWorkers int

	// MaxQueuedTasks caps the task queue; enqueueing beyond it fails.
	MaxQueuedTasks int

	// LowWaterThreshold is the queue headroom below which the service
	// reports itself overloaded.
	LowWaterThreshold int
}

var DefaultWorkerOptions = WorkerOptions{
	MinWorkers:        1,
	MaxWorkers:        4,
	MaxQueuedTasks:    64,
	LowWaterThreshold: 8,
}

// WorkerService is the bounded pool handler work is offloaded to, so
// the reactor goroutine is never blocked by user logic. The controller
// only queries its saturation and submits tasks.
type WorkerService struct {
	tasks chan func()
	opts  WorkerOptions

	workers  atomic.Int32
	shutdown atomic.Bool
	wg       sync.WaitGroup

	// m guards task submission and worker spawning against a concurrent
	// Shutdown closing the queue and waiting out the group.
	m sync.RWMutex
}

func NewWorkerService(opts WorkerOptions) *WorkerService {
	if opts.MinWorkers <= 0 {
		opts.MinWorkers = DefaultWorkerOptions.MinWorkers
	}
	if opts.MaxWorkers < opts.MinWorkers {
		opts.MaxWorkers = opts.MinWorkers
	}
	if opts.MaxQueuedTasks <= 0 {
		opts.MaxQueuedTasks = DefaultWorkerOptions.MaxQueuedTasks
	}
	if opts.LowWaterThreshold < 0 {
		opts.LowWaterThreshold = 0
	}
	if opts.LowWaterThreshold >= opts.MaxQueuedTasks {
		opts.LowWaterThreshold = opts.MaxQueuedTasks - 1
	}

	ws := &WorkerService{
		tasks: make(chan func(), opts.MaxQueuedTasks),
		opts:  opts,
	}

	for i := 0; i < opts.MinWorkers; i++ {
		ws.spawn()
	}

	return ws
}

// Execute enqueues a task without blocking.
func (ws *WorkerService) Execute(task func()) error {
	ws.m.RLock()
	if ws.shutdown.Load() {
		ws.m.RUnlock()
		return ErrPoolShutdown
	}

	select {
	case ws.tasks <- task:
		ws.m.RUnlock()
	default:
		ws.m.RUnlock()
		return ErrPoolSaturated
	}

	// Grow towards MaxWorkers while tasks are waiting.
	if len(ws.tasks) > 0 && int(ws.workers.Load()) < ws.opts.MaxWorkers {
		ws.spawn()
	}

	return nil
}

// IsOverloaded reports that the task queue is within the low-water
// headroom of its capacity and won't soon accept more work.
func (ws *WorkerService) IsOverloaded() bool {
	return len(ws.tasks) >= ws.opts.MaxQueuedTasks-ws.opts.LowWaterThreshold
}

func (ws *WorkerService) IsShutdown() bool { return ws.shutdown.Load() }

// QueuedTasks reports the tasks waiting for a worker.
func (ws *WorkerService) QueuedTasks() int { return len(ws.tasks) }

// Workers reports the live worker count.
func (ws *WorkerService) Workers() int { return int(ws.workers.Load()) }

// Shutdown stops accepting tasks, runs out the queue and waits for
// the workers to exit.
func (ws *WorkerService) Shutdown() {
	if !ws.shutdown.CompareAndSwap(false, true) {
		return
	}

	ws.m.Lock()
	close(ws.tasks)
	ws.m.Unlock()

	ws.wg.Wait()
}

func (ws *WorkerService) spawn() {
	ws.m.RLock()
	defer ws.m.RUnlock()

	if ws.shutdown.Load() {
		return
	}
	if int(ws.workers.Add(1)) > ws.opts.MaxWorkers {
		ws.workers.Add(-1)
		return
	}

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		defer ws.workers.Add(-1)
		for task := range ws.tasks {
			runTask(task)
		}
	}()
}

// runTask keeps a panicking task from killing its worker.
func runTask(task func()) {
	defer func() { _ = recover() }()
	task()
}
