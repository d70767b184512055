package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherReturnsJobResult(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})
	defer d.Close()

	require.NoError(t, d.Submit(context.Background(), "s1", func(ctx context.Context) error { return nil }))

	boom := errors.New("webhook down")
	err := d.Submit(context.Background(), "s1", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = d.Submit(context.Background(), "s1", func(ctx context.Context) error { panic("nil map") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	assert.Error(t, d.Submit(context.Background(), "s1", nil))
}

func TestDispatcherSkipsJobsOfCancelledCallers(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := d.Submit(ctx, "s1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestDispatcherBusyWhenQueueFull(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	defer d.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	blocking := func(ctx context.Context) error {
		<-gate
		return nil
	}
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- d.Submit(context.Background(), "first", func(ctx context.Context) error {
			close(started)
			<-gate
			return nil
		})
	}()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("first job did not start")
	}

	// one more job can wait in the dispatcher and one in the queue; the rest bounce
	const extra = 5
	results := make(chan error, extra)
	for i := 0; i < extra; i++ {
		go func() { results <- d.Submit(context.Background(), "other", blocking) }()
	}
	busy := 0
	for busy < extra-2 {
		select {
		case err := <-results:
			require.ErrorIs(t, err, ErrDispatcherBusy)
			busy++
		case <-time.After(2 * time.Second):
			t.Fatalf("expected at least %d busy rejections, got %d", extra-2, busy)
		}
	}

	close(gate)
	require.NoError(t, <-firstDone)
	for i := busy; i < extra; i++ {
		select {
		case err := <-results:
			if err != nil {
				assert.ErrorIs(t, err, ErrDispatcherBusy)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("queued job did not finish")
		}
	}
}

// newManualDispatcher builds a dispatcher without its run loop so tests can
// drive dispatchOne themselves.
func newManualDispatcher(workers int) *Dispatcher {
	return &Dispatcher{
		pool:      newWorkerPool(workers, workers, time.Minute),
		jobs:      make(chan Job, 8),
		done:      make(chan struct{}),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
}

func TestDispatcherRoundRobinAcrossSessions(t *testing.T) {
	d := newManualDispatcher(1)

	var mu sync.Mutex
	var order []string
	var jobs []Job
	for _, spec := range [][2]string{{"a", "a1"}, {"a", "a2"}, {"a", "a3"}, {"b", "b1"}, {"c", "c1"}} {
		label := spec[1]
		job := Job{
			SessionID: spec[0],
			Run: func(ctx context.Context) error {
				mu.Lock()
				order = append(order, label)
				mu.Unlock()
				return nil
			},
			result: make(chan error, 1),
		}
		jobs = append(jobs, job)
		d.enqueueJob(job)
	}

	for d.dispatchOne() {
	}
	for _, job := range jobs {
		select {
		case err := <-job.result:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatalf("job did not finish")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a1", "b1", "c1", "a2", "a3"}, order)
	assert.Empty(t, d.queues)
	assert.Equal(t, 0, d.ready.Len())
}

func TestDispatcherCancelSession(t *testing.T) {
	d := newManualDispatcher(1)

	var jobs []Job
	for _, id := range []string{"gone", "gone", "stays"} {
		job := Job{SessionID: id, Run: func(ctx context.Context) error { return nil }, result: make(chan error, 1)}
		jobs = append(jobs, job)
		d.enqueueJob(job)
	}

	d.CancelSession("gone")
	assert.ErrorIs(t, <-jobs[0].result, ErrJobCancelled)
	assert.ErrorIs(t, <-jobs[1].result, ErrJobCancelled)

	require.True(t, d.dispatchOne())
	assert.NoError(t, <-jobs[2].result)
	assert.False(t, d.dispatchOne())

	// unknown sessions are a no-op
	d.CancelSession("never-seen")
}

func TestDispatcherRetiresIdleWorkers(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 3, QueueSize: 8, IdleTimeout: 20 * time.Millisecond})
	defer d.Close()

	gate := make(chan struct{})
	started := make(chan struct{}, 3)
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := d.Submit(context.Background(), id, func(ctx context.Context) error {
				started <- struct{}{}
				<-gate
				return nil
			})
			assert.NoError(t, err)
		}(id)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("only %d jobs started concurrently", i)
		}
	}
	running, _ := d.Workers()
	assert.Equal(t, 3, running)

	close(gate)
	wg.Wait()

	require.Eventually(t, func() bool {
		running, _ := d.Workers()
		return running == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	gate := make(chan struct{})
	started := make(chan struct{})
	results := make(chan error, 2)
	go func() {
		results <- d.Submit(context.Background(), "a", func(ctx context.Context) error {
			close(started)
			<-gate
			return nil
		})
	}()
	<-started
	go func() {
		results <- d.Submit(context.Background(), "b", func(ctx context.Context) error { return nil })
	}()

	d.Close()
	d.Close()
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrDispatcherClosed)
		case <-time.After(time.Second):
			t.Fatalf("submit %d did not return after close", i)
		}
	}
	assert.ErrorIs(t, d.Submit(context.Background(), "c", func(ctx context.Context) error { return nil }), ErrDispatcherClosed)

	close(gate)
	require.Eventually(t, func() bool {
		running, _ := d.Workers()
		return running == 0
	}, 2*time.Second, 10*time.Millisecond)
}
