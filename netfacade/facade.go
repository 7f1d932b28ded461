// Package netfacade is the scheduler-side view of a transport.Transport:
// it buffers inbound bytes, exposes read_exact/read_until/accept as
// blocking calls resumed from transport events, and manages backpressure
// on the read buffer.
package netfacade

import (
	"sync"

	"github.com/nabbar/simple-mesh/cancel"
	liberr "github.com/nabbar/simple-mesh/errors"
	"github.com/nabbar/simple-mesh/transport"
)

// shrinkThresholdNum/Den: the read buffer's consumed prefix is memmove'd
// to the front once it exceeds 1/4 of the buffer's current capacity.
const shrinkThresholdNum, shrinkThresholdDen = 1, 4

type acceptedConn struct {
	childID uint64
	local   string
	remote  string
	conn    transport.Transport
}

// Socket is one façade-managed connection: read buffer, accept queue (if
// it is a listener), and a wait list of blocked read/accept calls.
type Socket struct {
	conn transport.Transport

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	consumed int
	closed   bool
	closeErr error
	accepts  []acceptedConn
}

// NewSocket wraps conn (already started) so its events feed this
// façade's buffer and accept queue.
func NewSocket(conn transport.Transport) *Socket {
	s := &Socket{conn: conn}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// HandleEvent must be called (from the scheduler goroutine, or via
// sched.Post from the transport's event callback) for every event this
// socket's underlying transport emits.
func (s *Socket) HandleEvent(ev transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case transport.Data:
		s.buf = append(s.buf, ev.Payload...)
	case transport.Stopped:
		s.closed = true
		s.closeErr = ev.Err
	case transport.Accepted:
		s.accepts = append(s.accepts, acceptedConn{
			childID: ev.ChildID,
			local:   addrString(ev.LocalAddr),
			remote:  addrString(ev.RemoteAddr),
			conn:    ev.Child,
		})
	}
	s.cond.Broadcast()
}

func addrString(a interface{ String() string }) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// Accept blocks until a pending accepted connection is available or tok
// is cancelled.
func (s *Socket) Accept(tok cancel.Token) (childID uint64, local, remote string, conn transport.Transport, err error) {
	cancelled := false
	reg := tok.Register(func() {
		s.mu.Lock()
		cancelled = true
		s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer reg.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.accepts) == 0 && !s.closed && !cancelled {
		s.cond.Wait()
	}
	if cancelled {
		return 0, "", "", nil, liberr.NewCode(liberr.CodeCancelled, "netfacade: accept cancelled")
	}
	if len(s.accepts) == 0 {
		return 0, "", "", nil, liberr.NewCode(liberr.CodePeerDisconnected, "netfacade: listener closed", s.closeErr)
	}
	a := s.accepts[0]
	s.accepts = s.accepts[1:]
	return a.childID, a.local, a.remote, a.conn, nil
}

// ReadExact blocks until n bytes are available, copies them into dst,
// consumes them, and returns n. It raises on close before n bytes ever
// arrive.
func (s *Socket) ReadExact(tok cancel.Token, dst []byte, n int) (int, error) {
	cancelled := false
	reg := tok.Register(func() {
		s.mu.Lock()
		cancelled = true
		s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer reg.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.readable() < n && !s.closed && !cancelled {
		s.cond.Wait()
	}
	if cancelled {
		return 0, liberr.NewCode(liberr.CodeCancelled, "netfacade: read_exact cancelled")
	}
	if s.readable() < n {
		return 0, liberr.NewCode(liberr.CodePeerDisconnected, "netfacade: connection closed before read_exact completed", s.closeErr)
	}
	copy(dst, s.buf[s.consumed:s.consumed+n])
	s.consumed += n
	s.maybeShrink()
	return n, nil
}

// ReadUntil blocks until delimiter occurs in the unread portion of the
// buffer, then copies everything through and including the first
// occurrence into dst and returns that length.
func (s *Socket) ReadUntil(tok cancel.Token, dst []byte, delimiter byte) (int, error) {
	cancelled := false
	reg := tok.Register(func() {
		s.mu.Lock()
		cancelled = true
		s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer reg.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !cancelled {
		if idx := s.indexOfUnread(delimiter); idx >= 0 {
			n := idx + 1
			copy(dst, s.buf[s.consumed:s.consumed+n])
			s.consumed += n
			s.maybeShrink()
			return n, nil
		}
		if s.closed {
			return 0, liberr.NewCode(liberr.CodePeerDisconnected, "netfacade: connection closed before delimiter found", s.closeErr)
		}
		s.cond.Wait()
	}
	return 0, liberr.NewCode(liberr.CodeCancelled, "netfacade: read_until cancelled")
}

func (s *Socket) indexOfUnread(delimiter byte) int {
	for i := s.consumed; i < len(s.buf); i++ {
		if s.buf[i] == delimiter {
			return i - s.consumed
		}
	}
	return -1
}

func (s *Socket) readable() int { return len(s.buf) - s.consumed }

// maybeShrink memmoves the unread tail to the front of buf once the
// consumed prefix exceeds 1/4 of the buffer's capacity, bounding how far
// a slow reader lets the buffer grow.
func (s *Socket) maybeShrink() {
	if s.consumed*shrinkThresholdDen <= cap(s.buf)*shrinkThresholdNum {
		return
	}
	n := copy(s.buf, s.buf[s.consumed:])
	s.buf = s.buf[:n]
	s.consumed = 0
}

// Close stops the underlying transport; the resulting Stopped event
// (delivered back through HandleEvent) flushes any blocked callers.
func (s *Socket) Close() {
	s.conn.Stop(nil)
}
