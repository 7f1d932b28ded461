package shm

import (
	liberr "github.com/nabbar/simple-mesh/errors"
)

// Segment owns the lifetime of a mapped region backing a Ring. Two
// concrete backings are provided: an anonymous, process-local mapping
// (NewAnonymous, used by tests and by same-process shortcuts) and a
// named POSIX shared-memory object two different processes can both
// attach to (Create/Attach, in segment_unix.go).
type Segment struct {
	Ring   *Ring
	closer func() error
}

// Close unmaps (and, for the owning creator, may unlink) the segment.
func (s *Segment) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// NewAnonymous builds a Ring over a freshly zeroed, process-local buffer.
// It is not visible to any other process; use Create/Attach for true
// cross-process shared memory.
func NewAnonymous(capacity uint64) (*Segment, error) {
	if capacity == 0 {
		return nil, liberr.NewCode(liberr.CodeInvalidAction, "shm: capacity must be > 0")
	}
	mem := make([]byte, headerSize+capacity)
	return &Segment{Ring: newRing(mem, capacity, true), closer: func() error { return nil }}, nil
}
