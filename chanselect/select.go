// Package chanselect implements spec section 4.7: a dedicated background
// goroutine (thread P in spec section 5) that polls a set of pending
// shared-memory channel operations until their predicate (readable >= n
// or writable >= n) holds, then hands the waiting continuation back to
// the scheduler via Post. Shared memory offers no OS-level wakeup, so
// this is necessarily a polling loop with a backoff policy.
package chanselect

import (
	"sync"
	"time"

	"github.com/nabbar/simple-mesh/scheduler"
)

// Pollable is the minimal surface chanselect needs from a ring: the two
// predicates it polls.
type Pollable interface {
	Readable() uint64
	Writable() uint64
}

// Direction distinguishes a read-wait from a write-wait entry.
type Direction int

const (
	WaitReadable Direction = iota
	WaitWritable
)

type entry struct {
	ring      Pollable
	dir       Direction
	need      uint64
	onReady   func()
	cancelled *bool
}

// Selector owns the poll loop and its intake queue.
type Selector struct {
	sched *scheduler.Scheduler

	mu      sync.Mutex
	cond    *sync.Cond
	intake  []entry
	entries []entry
	stopped bool
	doneCh  chan struct{}
}

// New starts a Selector bound to sched; sched.Post is how ready
// continuations are handed back to the scheduler goroutine.
func New(sched *scheduler.Scheduler) *Selector {
	s := &Selector{sched: sched, doneCh: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Await registers a predicate and returns a cancel func. onReady is
// invoked (via sched.Post) exactly once, the first time the predicate is
// observed true; calling the returned cancel func after that is a no-op.
func (s *Selector) Await(ring Pollable, dir Direction, need uint64, onReady func()) (cancelFn func()) {
	cancelled := false
	e := entry{ring: ring, dir: dir, need: need, onReady: onReady, cancelled: &cancelled}

	s.mu.Lock()
	s.intake = append(s.intake, e)
	s.mu.Unlock()
	s.cond.Signal()

	return func() {
		s.mu.Lock()
		cancelled = true
		s.mu.Unlock()
	}
}

// Stop tears down the poll loop. Pending entries are dropped without
// invoking their continuations.
func (s *Selector) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Signal()
	<-s.doneCh
}

func ready(e entry) bool {
	switch e.dir {
	case WaitReadable:
		return e.ring.Readable() >= e.need
	case WaitWritable:
		return e.ring.Writable() >= e.need
	default:
		return false
	}
}

func (s *Selector) loop() {
	defer close(s.doneCh)

	emptyIterations := 0
	for {
		s.mu.Lock()
		for len(s.entries) == 0 && len(s.intake) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}

		s.entries = append(s.entries, s.intake...)
		s.intake = nil

		didWork := false
		remaining := s.entries[:0]
		for _, e := range s.entries {
			if *e.cancelled {
				continue
			}
			if ready(e) {
				didWork = true
				cb := e.onReady
				s.sched.Post(cb)
				continue
			}
			remaining = append(remaining, e)
		}
		s.entries = remaining
		s.mu.Unlock()

		if didWork {
			emptyIterations = 0
			time.Sleep(0) // yield
			continue
		}
		emptyIterations++
		switch {
		case emptyIterations%64 == 0:
			time.Sleep(2 * time.Millisecond)
		case emptyIterations%16 == 0:
			time.Sleep(200 * time.Microsecond)
		default:
			time.Sleep(20 * time.Microsecond)
		}
	}
}
