package worker

import (
	"sync"
	"time"
)

const defaultWorkerIdle = 30 * time.Second

// poolSlot is the pool's view of one worker goroutine.
type poolSlot struct {
	id       int
	inbox    chan Job
	idleFrom time.Time
	idle     bool // waiting in the idle queue
	removed  bool // retired or about to be
}

// workerPool grows between min and max workers. Workers idle for longer than
// idleAfter are retired until only min remain.
type workerPool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	idle      []*poolSlot
	slots     map[chan Job]*poolSlot
	min       int
	max       int
	running   int
	nextID    int
	idleAfter time.Duration
	closed    bool
	stopReap  chan struct{}
}

func newWorkerPool(minWorkers, maxWorkers int, idleAfter time.Duration) *workerPool {
	if idleAfter <= 0 {
		idleAfter = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &workerPool{
		slots:     make(map[chan Job]*poolSlot),
		min:       minWorkers,
		max:       maxWorkers,
		idleAfter: idleAfter,
		stopReap:  make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	return p
}

// warmUp starts n idle workers ahead of the first job.
func (p *workerPool) warmUp(n int) {
	for i := 0; i < n; i++ {
		p.mu.Lock()
		w := p.spawnLocked()
		p.mu.Unlock()
		if w == nil {
			return
		}
		w.Start()
	}
}

// spawnLocked registers a new idle worker; the caller starts it after unlocking.
func (p *workerPool) spawnLocked() *Worker {
	if p.closed || p.running >= p.max {
		return nil
	}
	p.nextID++
	w := newWorker(p.nextID, p)
	slot := &poolSlot{id: w.id, inbox: w.inbox, idleFrom: time.Now(), idle: true}
	p.slots[w.inbox] = slot
	p.idle = append(p.idle, slot)
	p.running++
	return w
}

// checkout returns the inbox of an idle worker, starting one when the pool
// may still grow and waiting otherwise. It reports false once the pool closed.
func (p *workerPool) checkout() (chan Job, bool) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, false
		}
		if slot := p.popIdleLocked(); slot != nil {
			p.mu.Unlock()
			return slot.inbox, true
		}
		if w := p.spawnLocked(); w != nil {
			p.mu.Unlock()
			w.Start()
			continue
		}
		p.cond.Wait()
		p.mu.Unlock()
	}
}

// checkin puts a worker back into the idle queue after a job. A false result
// tells the worker to exit because the pool closed.
func (p *workerPool) checkin(inbox chan Job) bool {
	p.mu.Lock()
	slot, ok := p.slots[inbox]
	if !ok || slot.removed {
		p.mu.Unlock()
		return false
	}
	if p.closed {
		p.removeLocked(inbox)
		p.mu.Unlock()
		return false
	}
	if !slot.idle {
		slot.idle = true
		slot.idleFrom = time.Now()
		p.idle = append(p.idle, slot)
	}
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

func (p *workerPool) remove(inbox chan Job) {
	p.mu.Lock()
	p.removeLocked(inbox)
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *workerPool) removeLocked(inbox chan Job) {
	slot, ok := p.slots[inbox]
	if !ok {
		return
	}
	delete(p.slots, inbox)
	slot.removed = true
	if p.running > 0 {
		p.running--
	}
}

func (p *workerPool) workerID(inbox chan Job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok := p.slots[inbox]; ok {
		return slot.id
	}
	return 0
}

func (p *workerPool) stats() (running, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, len(p.idle)
}

func (p *workerPool) popIdleLocked() *poolSlot {
	for len(p.idle) > 0 {
		slot := p.idle[0]
		p.idle = p.idle[1:]
		if slot.removed {
			continue
		}
		slot.idle = false
		return slot
	}
	return nil
}

func (p *workerPool) reapLoop() {
	ticker := time.NewTicker(p.idleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReap:
			return
		case <-ticker.C:
			p.reapIdle(false)
		}
	}
}

// reapIdle sends a stop job to workers idle for too long, never going below
// min unless all is set.
func (p *workerPool) reapIdle(all bool) {
	var stale []*poolSlot
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || (!all && p.running <= p.min) {
		p.mu.Unlock()
		return
	}
	keep := p.idle[:0]
	for _, slot := range p.idle {
		if slot.removed {
			continue
		}
		expired := now.Sub(slot.idleFrom) >= p.idleAfter && p.running-len(stale) > p.min
		if all || expired {
			slot.removed = true
			slot.idle = false
			stale = append(stale, slot)
			continue
		}
		keep = append(keep, slot)
	}
	p.idle = keep
	p.mu.Unlock()

	for _, slot := range stale {
		slot.inbox <- Job{stop: true}
	}
}

// close stops idle workers right away; busy ones exit after their job.
func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopReap)
	p.mu.Unlock()
	p.cond.Broadcast()
	p.reapIdle(true)
}
