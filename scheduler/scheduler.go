// Package scheduler is the single-threaded cooperative task executor of
// spec section 4.1: a FIFO work queue, a min-heap of timer awaiters, and a
// resume list, all drained by one goroutine ("the scheduler thread" of
// spec section 5). Every gate, gate-master, and RPC data structure in
// this module is documented as "touched only on S; no locks" — in this
// port, S is the goroutine running Scheduler.Run, and every mutation of
// those structures must happen inside a callable posted to this
// scheduler, never directly from another goroutine.
package scheduler

import (
	"bytes"
	"container/heap"
	"runtime"
	"sync"
	"time"
)

// Callable is a unit of work run on the scheduler goroutine.
type Callable func()

// Scheduler is the cooperative loop described above. The zero value is
// not usable; construct with New.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Callable
	timers  timerHeap
	resume  []Callable
	stopped bool

	threadID uint64 // set once Run starts, compared by IsSchedulerThread
	started  bool

	wakeTimer *time.Timer // fires cond.Broadcast at the earliest pending timer's deadline

	doneCh chan struct{}
}

// New builds an idle Scheduler. Call Run to start the loop.
func New() *Scheduler {
	s := &Scheduler{doneCh: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Post enqueues fn on the work queue. Safe to call from any goroutine
// (spec section 4.1: "post(fn) is thread-safe").
func (s *Scheduler) Post(fn Callable) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	s.cond.Signal()
}

// PostImmediate runs fn inline if the caller is already the scheduler
// goroutine, otherwise posts it, matching "post_immediate(fn)" from spec
// section 4.1.
func (s *Scheduler) PostImmediate(fn Callable) {
	if s.onSchedulerThread() {
		fn()
		return
	}
	s.Post(fn)
}

// WakeUp appends fn to the resume list if called from the scheduler
// thread, otherwise posts a wrapper that appends it. Used by suspension
// points to resume a coroutine's continuation.
func (s *Scheduler) WakeUp(fn Callable) {
	if s.onSchedulerThread() {
		s.mu.Lock()
		s.resume = append(s.resume, fn)
		s.mu.Unlock()
		return
	}
	s.Post(func() {
		s.mu.Lock()
		s.resume = append(s.resume, fn)
		s.mu.Unlock()
	})
}

func (s *Scheduler) onSchedulerThread() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && currentGoroutineID() == s.threadID
}

// Run drains the scheduler loop until Stop is called. It blocks the
// calling goroutine; callers typically do `go sched.Run()`.
func (s *Scheduler) Run() {
	s.mu.Lock()
	s.threadID = currentGoroutineID()
	s.started = true
	s.mu.Unlock()

	defer close(s.doneCh)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && len(s.resume) == 0 && !s.stopped && !s.timerDueLocked() {
			s.cond.Wait()
		}
		if s.stopped && len(s.queue) == 0 && len(s.resume) == 0 {
			s.mu.Unlock()
			return
		}

		// 1. drain work queue under lock, execute unlocked.
		work := s.queue
		s.queue = nil

		// 2. pop due timers.
		now := time.Now()
		var due []Callable
		for s.timers.Len() > 0 && !s.timers[0].deadline.After(now) {
			t := heap.Pop(&s.timers).(*timerNode)
			if t.cb != nil {
				due = append(due, t.cb)
			}
		}
		s.armWakeLocked()

		// 3. drain resume list.
		resumes := s.resume
		s.resume = nil
		s.mu.Unlock()

		for _, fn := range work {
			fn()
		}
		for _, fn := range due {
			fn()
		}
		for _, fn := range resumes {
			fn()
		}
	}
}

// timerDueLocked reports whether the earliest pending timer has already
// reached its deadline. Caller must hold s.mu.
func (s *Scheduler) timerDueLocked() bool {
	return s.timers.Len() > 0 && !s.timers[0].deadline.After(time.Now())
}

// armWakeLocked (re)schedules a one-shot timer that broadcasts s.cond at
// the earliest pending timer's deadline, so Run's cond.Wait does not
// block past a timer that isn't due yet but isn't the subject of any
// other wakeup. Caller must hold s.mu.
func (s *Scheduler) armWakeLocked() {
	if s.wakeTimer != nil {
		s.wakeTimer.Stop()
		s.wakeTimer = nil
	}
	if s.timers.Len() == 0 {
		return
	}
	d := time.Until(s.timers[0].deadline)
	if d < 0 {
		d = 0
	}
	s.wakeTimer = time.AfterFunc(d, s.cond.Broadcast)
}

// Stop requests the loop to exit after draining pending work. Outstanding
// timers are dropped without running their continuations, per spec
// section 4.1.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Join blocks until Run has returned.
func (s *Scheduler) Join() {
	<-s.doneCh
}

// currentGoroutineID parses the goroutine id out of runtime.Stack. Go has
// no supported API for this; every approach is a hack. This one is the
// same trick used by several debugging/telemetry libraries in the
// ecosystem: format a short stack frame and scan the leading digits.
// Correctness only matters for the PostImmediate/WakeUp fast paths;
// getting it wrong just falls back to the always-correct Post path.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// "goroutine 123 [running]: ..."
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	var id uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
