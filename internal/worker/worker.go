package worker

import (
	"context"
	"fmt"
	"log"
	"os"
)

var debugEnabled = os.Getenv("VSOPORTAL_WORKER_DEBUG") == "1"

func debugLog(format string, args ...interface{}) {
	if debugEnabled {
		log.Printf(format, args...)
	}
}

// Job is one unit of work queued on behalf of a browser session.
type Job struct {
	SessionID string
	Run       func(ctx context.Context) error

	ctx    context.Context
	result chan error
	stop   bool
}

func (j Job) finish(err error) {
	if j.result != nil {
		j.result <- err
	}
}

// Worker runs the jobs it receives on its inbox one at a time.
type Worker struct {
	id    int
	pool  *workerPool
	inbox chan Job
}

func newWorker(id int, pool *workerPool) *Worker {
	return &Worker{id: id, pool: pool, inbox: make(chan Job)}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.inbox {
			if job.stop {
				w.pool.remove(w.inbox)
				debugLog("[worker-%d] retired", w.id)
				return
			}
			job.finish(w.run(job))
			if !w.pool.checkin(w.inbox) {
				debugLog("[worker-%d] pool closed, exiting", w.id)
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) (err error) {
	ctx := job.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// the caller may have gone away while the job was queued
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker-%d: job for session %s panicked: %v", w.id, shortID(job.SessionID), r)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
