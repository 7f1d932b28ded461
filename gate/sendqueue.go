package gate

import (
	"fmt"
	"sync"

	liberr "github.com/nabbar/simple-mesh/errors"
	"github.com/nabbar/simple-mesh/errors/pool"
)

// delayQueueLimit is the bounded FIFO depth for frames addressed to a
// service that has not yet registered; beyond this, the oldest queued
// frame is dropped to make room for the newest.
const delayQueueLimit = 500

// SendQueue is a bounded, drop-oldest FIFO of frames pending a
// not-yet-registered destination. Every overflow also records a
// CodeError in errs, the diagnostic-facing half of Open Question 2
// (delay-queue overflow has no sender notification on the wire, but an
// operator inspecting a gate's state can still retrieve what was lost).
type SendQueue struct {
	mu      sync.Mutex
	frames  []Frame
	dropped int
	errs    pool.Pool
}

// Push appends f, dropping the oldest entry first if the queue is full.
func (q *SendQueue) Push(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) >= delayQueueLimit {
		old := q.frames[0]
		q.frames = q.frames[1:]
		q.dropped++
		if q.errs == nil {
			q.errs = pool.New()
		}
		q.errs.Add(liberr.NewCode(liberr.CodeSystem, fmt.Sprintf(
			"gate: delayed-forward queue overflow, dropped frame from=%d to=%d msg_id=%#x session=%d",
			old.From, old.To, old.MsgID, old.Session)))
	}
	q.frames = append(q.frames, f)
}

// Drain removes and returns every queued frame, oldest first.
func (q *SendQueue) Drain() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.frames
	q.frames = nil
	return out
}

// Dropped reports how many frames this queue has discarded to overflow
// since construction.
func (q *SendQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Errors returns the aggregated overflow errors recorded since
// construction, or nil if this queue has never dropped a frame.
func (q *SendQueue) Errors() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.errs == nil {
		return nil
	}
	return q.errs.Error()
}
