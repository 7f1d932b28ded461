// Package rpcsession ports the kernel's rpc_system: a wait-map from
// session ID to a pending awaiter, resumed either by a reply arriving on
// that session or by cancellation (including timeout).
package rpcsession

import (
	"sync"

	"github.com/nabbar/simple-mesh/cancel"
	liberr "github.com/nabbar/simple-mesh/errors"
	"github.com/nabbar/simple-mesh/gateproto"
)

// awaiter is the registry-side handle for one pending call: a channel the
// call site blocks on, fed exactly once by WakeUp.
type awaiter struct {
	resultCh chan result
}

type result struct {
	payload    []byte
	cancelled  bool
}

// Registry is the session wait-map. Per the original's single-threaded
// invariant ("awaiters are scheduler-thread-only; the map is not
// locked"), a mutex here is strictly defensive: Go gives no equivalent
// of "only the cooperative scheduler goroutine touches this," and a
// stray concurrent caller must not corrupt the map.
type Registry struct {
	alloc *gateproto.SessionAllocator

	mu   sync.Mutex
	wait map[uint64]*awaiter
}

// New builds a Registry whose session IDs are produced by alloc.
func New(alloc *gateproto.SessionAllocator) *Registry {
	return &Registry{alloc: alloc, wait: make(map[uint64]*awaiter)}
}

// CreateSession allocates a fresh session ID. It does not register an
// awaiter; Await does that (through InsertSession) once the caller is
// ready to wait for a reply.
func (r *Registry) CreateSession() uint64 {
	return r.alloc.CreateSession()
}

// InsertSession records session as awaiting a reply and returns a
// receive-only channel that yields exactly once: either the reply bytes,
// or a cancellation marker.
func (r *Registry) InsertSession(session uint64) <-chan result {
	a := &awaiter{resultCh: make(chan result, 1)}
	r.mu.Lock()
	r.wait[session] = a
	r.mu.Unlock()
	return a.resultCh
}

// WakeUpWithData looks up session, removes its entry, and resumes it
// with reply bytes. Reports false if no awaiter was registered (the
// reply arrived after a timeout already removed the entry, or for an
// unknown session).
func (r *Registry) WakeUpWithData(session uint64, data []byte) bool {
	r.mu.Lock()
	a, ok := r.wait[session]
	if ok {
		delete(r.wait, session)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	a.resultCh <- result{payload: data}
	return true
}

// WakeUpCancelled removes session's entry (if any) and resumes it with a
// cancellation marker; Await then returns an error instead of bytes.
func (r *Registry) WakeUpCancelled(session uint64) {
	r.mu.Lock()
	a, ok := r.wait[session]
	if ok {
		delete(r.wait, session)
	}
	r.mu.Unlock()
	if ok {
		a.resultCh <- result{cancelled: true}
	}
}

// Await blocks (honoring tok) until session's entry is woken, and
// unregisters it on cancellation so a later, unrelated reply to the same
// numeric session value (vanishingly unlikely within the 25-bit/second
// budget, but not impossible across process restarts) cannot resume an
// already-abandoned call.
func (r *Registry) Await(tok cancel.Token, session uint64) ([]byte, error) {
	ch := r.InsertSession(session)

	reg := tok.Register(func() { r.WakeUpCancelled(session) })
	defer reg.Detach()

	res := <-ch
	if res.cancelled {
		return nil, liberr.NewCode(liberr.CodeCancelled, "rpcsession: call cancelled before reply")
	}
	return res.payload, nil
}
