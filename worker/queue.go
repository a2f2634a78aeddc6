package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when a task is submitted to a stopped queue.
var ErrStopped = errors.New("worker queue stopped")

// Task is a unit of background work. The context is cancelled when the
// queue stops.
type Task func(ctx context.Context)

// Queue runs submitted tasks one at a time, in submission order, on a single
// goroutine. Submitting never blocks.
type Queue struct {
	tasks []Task
	wake  chan struct{}
	mu    sync.Mutex

	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewQueue creates a new, not yet started, queue.
func NewQueue() *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
	}
}

// Start starts the queue goroutine.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.stopped {
		return
	}
	q.started = true

	q.wg.Add(1)
	go q.run()
}

// Stop stops the queue. A task in flight sees its context cancelled and
// tasks still queued are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.tasks = nil
	q.mu.Unlock()

	q.cancel()
	close(q.quit)
	q.wg.Wait()
}

// Submit appends a task to the queue.
func (q *Queue) Submit(task Task) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return nil
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		task, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			}
		}

		task(q.ctx)
	}
}

func (q *Queue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 || q.stopped {
		return nil, false
	}

	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]

	return task, true
}
