package scheduler

import (
	"time"

	"github.com/nabbar/simple-mesh/cancel"
	liberr "github.com/nabbar/simple-mesh/errors"
)

// timerNode is one entry in the scheduler's timer min-heap, spec
// section 4.4.
type timerNode struct {
	deadline time.Time
	cb       Callable
	index    int
}

type timerHeap []*timerNode

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) { n := x.(*timerNode); n.index = len(*h); *h = append(*h, n) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// nextDeadline reports the earliest pending timer, if any.
func (s *Scheduler) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers.Len() == 0 {
		return time.Time{}, false
	}
	return s.timers[0].deadline, true
}

// SleepUntil suspends the calling goroutine until t or until tok is
// cancelled, matching spec section 4.4's sleep_until. The timer node is
// removed from the heap on either path: normal firing pops it in Run;
// cancellation removes it here before resuming.
func (s *Scheduler) SleepUntil(t time.Time, tok cancel.Token) error {
	if tok.Valid() && tok.IsRequested() {
		return liberr.NewCode(liberr.CodeCancelled, "sleep_until: already cancelled")
	}

	done := make(chan struct{})
	node := &timerNode{deadline: t, cb: func() { close(done) }}

	s.mu.Lock()
	heapPush(&s.timers, node)
	s.armWakeLocked()
	s.mu.Unlock()
	s.cond.Signal()

	var reg cancel.Registration
	var cancelled = make(chan struct{})
	if tok.Valid() {
		reg = tok.Register(func() {
			s.mu.Lock()
			if node.index >= 0 && node.index < len(s.timers) && s.timers[node.index] == node {
				heapRemove(&s.timers, node.index)
			}
			s.armWakeLocked()
			s.mu.Unlock()
			close(cancelled)
		})
		defer reg.Detach()
	}

	select {
	case <-done:
		return nil
	case <-cancelled:
		return liberr.NewCode(liberr.CodeCancelled, "sleep_until: cancelled")
	}
}

// SleepFor is sleep_until(now + d).
func (s *Scheduler) SleepFor(d time.Duration, tok cancel.Token) error {
	return s.SleepUntil(time.Now().Add(d), tok)
}
