package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

const (
	DefaultMinWorkers = 1
	DefaultMaxWorkers = 4
	DefaultQueueSize  = 32
)

var (
	// ErrDispatcherBusy is returned when the job queue is full.
	ErrDispatcherBusy = errors.New("dispatcher queue is full")
	// ErrJobCancelled is returned for queued jobs of a session that ended.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrDispatcherClosed is returned once Close was called.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Config sizes the dispatcher. Zero values fall back to the defaults.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a bounded worker pool. Sessions take turns, so one
// session submitting in a loop cannot starve the others.
type Dispatcher struct {
	pool      *workerPool
	jobs      chan Job // intake from Submit
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	queues    map[string]*sessionQueue // job queue for each session
	ready     *list.List               // LRU queue storing session ids
	positions map[string]*list.Element
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = DefaultMinWorkers
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		pool:      newWorkerPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		jobs:      make(chan Job, cfg.QueueSize),
		done:      make(chan struct{}),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool.warmUp(cfg.MinWorkers)
	go d.run()
	return d
}

// Submit queues fn for sessionID and blocks until it has run. It fails with
// ErrDispatcherBusy instead of waiting when the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("job function required")
	}
	select {
	case <-d.done:
		return ErrDispatcherClosed
	default:
	}
	job := Job{SessionID: sessionID, Run: fn, ctx: ctx, result: make(chan error, 1)}
	select {
	case d.jobs <- job:
	default:
		return ErrDispatcherBusy
	}
	select {
	case err := <-job.result:
		return err
	case <-d.done:
		return ErrDispatcherClosed
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the session in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobs: // nothing queued, block for the next one
				d.enqueueJob(job)
			case <-d.done:
				d.drain()
				return
			}
			continue
		}
		select {
		case job := <-d.jobs:
			d.enqueueJob(job)
		case <-d.done:
			d.drain()
			return
		default:
		}
	}
}

// Close fails every job that has not started and stops the workers once they
// finish what they are running.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.pool.close()
	})
}

func (d *Dispatcher) drain() {
intake:
	for {
		select {
		case job := <-d.jobs:
			job.finish(ErrDispatcherClosed)
		default:
			break intake
		}
	}
	d.mu.Lock()
	var pending []Job
	for id, q := range d.queues {
		pending = append(pending, q.jobs...)
		delete(d.queues, id)
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()
	for _, job := range pending {
		job.finish(ErrDispatcherClosed)
	}
}

// CancelSession fails every job of sessionID that has not started yet.
func (d *Dispatcher) CancelSession(sessionID string) {
	d.mu.Lock()
	var dropped []Job
	if q, ok := d.queues[sessionID]; ok {
		dropped = q.jobs
		delete(d.queues, sessionID)
	}
	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.finish(ErrJobCancelled)
	}
	if len(dropped) > 0 {
		debugLog("[dispatcher] cancelled %d queued jobs for session %s", len(dropped), shortID(sessionID))
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.SessionID] = d.ready.PushBack(job.SessionID)
}

// dispatchOne hands the next job of the first session in the LRU to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// last job of the session, it leaves the rotation
		delete(d.queues, sessionID)
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	inbox, ok := d.pool.checkout()
	if !ok {
		job.finish(ErrDispatcherClosed)
		return true
	}
	debugLog("[dispatcher] assign job for session %s to worker-%d", shortID(sessionID), d.pool.workerID(inbox))
	inbox <- job
	return true
}

// Workers reports running and idle workers.
func (d *Dispatcher) Workers() (running, idle int) {
	return d.pool.stats()
}
