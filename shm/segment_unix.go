//go:build !windows

package shm

import (
	"os"
	"path/filepath"

	liberr "github.com/nabbar/simple-mesh/errors"
	"golang.org/x/sys/unix"
)

// shmDir is where named segments live. Real POSIX shm_open uses /dev/shm
// on Linux; we open a plain file there by name and mmap it, which gives
// the same cross-process semantics without cgo.
const shmDir = "/dev/shm"

func segmentPath(name string) string {
	return filepath.Join(shmDir, "simple-mesh."+name)
}

// Create makes a new named segment of exactly headerSize+capacity bytes
// and zeroes the header, per spec section 4.5's "creates a new shared
// memory segment ... and zeroes the header" path. The segment's identity
// is the host-unique name; Attach(name, capacity) from another process
// maps the same bytes.
func Create(name string, capacity uint64) (*Segment, error) {
	if capacity == 0 {
		return nil, liberr.NewCode(liberr.CodeInvalidAction, "shm: capacity must be > 0")
	}
	size := int64(headerSize + capacity)

	f, err := os.OpenFile(segmentPath(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "shm: create segment", err)
	}
	if err = f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, liberr.NewCode(liberr.CodeSystem, "shm: truncate segment", err)
	}

	return mapSegment(f, capacity, true)
}

// Attach maps an existing named segment without reinitializing its
// header, per spec section 4.5's "attaches to an existing one (no
// reinitialization in attach path)".
func Attach(name string, capacity uint64) (*Segment, error) {
	size := int64(headerSize + capacity)

	f, err := os.OpenFile(segmentPath(name), os.O_RDWR, 0o600)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "shm: attach segment", err)
	}
	if fi, serr := f.Stat(); serr == nil && fi.Size() < size {
		_ = f.Close()
		return nil, liberr.NewCode(liberr.CodeInvalidAction, "shm: existing segment smaller than requested capacity")
	}

	return mapSegment(f, capacity, false)
}

func mapSegment(f *os.File, capacity uint64, zero bool) (*Segment, error) {
	size := int(headerSize + capacity)

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, liberr.NewCode(liberr.CodeSystem, "shm: mmap segment", err)
	}

	ring := newRing(mem, capacity, zero)
	seg := &Segment{
		Ring: ring,
		closer: func() error {
			err := unix.Munmap(mem)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	return seg, nil
}
