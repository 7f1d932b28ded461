// Package cancel implements the cancellation source/token/registration
// graph described in spec section 4.3: a reference-counted shared state
// with two terminal states (live, cancelled). Requesting cancellation
// walks every registration synchronously and invokes its callback exactly
// once.
//
// Registration and cancellation are expected to usually happen from the
// scheduler goroutine, matching the single-threaded reactor this package
// models, but suspension points (e.g. scheduler.SleepUntil) may be invoked
// from whatever goroutine represents a still-running task, so state is
// guarded by a mutex rather than assuming single-threaded access.
package cancel

import "sync"

// Source is the owning side of a cancellation graph.
type Source struct {
	st *state
}

// Token is the observing side: suspension points check IsRequested and
// attach a Registration before blocking.
type Token struct {
	st *state
}

// Registration binds a callback to a token. Detach is idempotent and safe
// to call whether or not cancellation ever fired.
type Registration struct {
	st *state
	id uint64
}

type state struct {
	mu        sync.Mutex
	cancelled bool
	next      uint64
	callbacks map[uint64]func()
}

// New creates a fresh, live cancellation source.
func New() Source {
	return Source{st: &state{callbacks: make(map[uint64]func())}}
}

// Token returns the token observing this source.
func (s Source) Token() Token {
	return Token{st: s.st}
}

// IsRequested reports whether cancellation has already been requested.
func (s Source) IsRequested() bool {
	if s.st == nil {
		return false
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.cancelled
}

// RequestCancellation flips the source to cancelled and invokes every
// registered callback exactly once. Idempotent: a second call is a no-op.
// Per invariant 6, once cancelled the token stays cancelled forever.
// Callbacks run after the lock is released, so a callback that itself
// registers or detaches on this token does not deadlock.
func (s Source) RequestCancellation() {
	if s.st == nil {
		return
	}
	s.st.mu.Lock()
	if s.st.cancelled {
		s.st.mu.Unlock()
		return
	}
	s.st.cancelled = true
	cbs := s.st.callbacks
	s.st.callbacks = nil
	s.st.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// IsRequested reports whether the source backing this token has been
// cancelled.
func (t Token) IsRequested() bool {
	if t.st == nil {
		return false
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.cancelled
}

// Valid reports whether this token observes a live source at all (a zero
// Token never cancels; callers use it for "no cancellation available").
func (t Token) Valid() bool {
	return t.st != nil
}

// Register attaches cb to be invoked exactly once when the token's source
// is cancelled. Attaching after cancellation already happened invokes cb
// immediately, matching "requesting cancellation runs all callbacks
// synchronously" semantics at the suspension point that registers late.
// Register returns a Registration the caller must Detach once the
// suspension resolves through any other path (e.g. normal completion)
// so the callback is never invoked for work that already finished.
func (t Token) Register(cb func()) Registration {
	if t.st == nil {
		return Registration{}
	}
	t.st.mu.Lock()
	if t.st.cancelled {
		t.st.mu.Unlock()
		cb()
		return Registration{}
	}
	id := t.st.next
	t.st.next++
	t.st.callbacks[id] = cb
	t.st.mu.Unlock()
	return Registration{st: t.st, id: id}
}

// Detach removes the registration's callback without invoking it. Safe to
// call multiple times and safe to call after the source already cancelled
// (it is then a no-op, since the callback map was already cleared).
func (r Registration) Detach() {
	if r.st == nil {
		return
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.callbacks == nil {
		return
	}
	delete(r.st.callbacks, r.id)
}
