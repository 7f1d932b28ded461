// Package shm implements the lock-free SPSC ring buffer of spec
// section 4.5: a fixed-size, single-producer single-consumer byte ring
// backed by shared memory, with length-delimited framing left to the
// shmchannel package one layer up.
//
// The four header words (read_cursor, write_cursor, read_index,
// write_index) live at the front of the mapped segment so that two
// different OS processes attaching to the same segment by name see the
// same counters. Cursors are monotonic counters; indices are modulo-
// capacity byte offsets. Only the producer advances the write
// cursor/index; only the consumer advances the read cursor/index
// (invariant 3 in spec section 3).
package shm

import (
	"encoding/binary"
	"sync/atomic"

	liberr "github.com/nabbar/simple-mesh/errors"
)

const headerWords = 4 // read_cursor, write_cursor, read_index, write_index
const headerSize = headerWords * 8

// Ring is a single SPSC byte ring over a mapped segment. The segment
// layout is: 4 native-endian uint64 header words, then capacity data
// bytes. Ring itself does not own the mapping lifetime; Segment does.
type Ring struct {
	mem      []byte // header + data, len == headerSize+capacity
	data     []byte // mem[headerSize:]
	capacity uint64
}

// newRing wraps mem (which must be at least headerSize+capacity bytes)
// as a Ring. zero, when true, clears the header words (the "create new
// segment" path of spec section 4.5); attaching to an existing segment
// passes zero=false so the counters already present are preserved.
func newRing(mem []byte, capacity uint64, zero bool) *Ring {
	r := &Ring{mem: mem, data: mem[headerSize : headerSize+capacity], capacity: capacity}
	if zero {
		for i := 0; i < headerWords; i++ {
			r.storeWord(i, 0)
		}
	}
	return r
}

func (r *Ring) wordPtr(i int) *uint64 {
	return (*uint64)(ptrAt(r.mem, i*8))
}

func (r *Ring) loadWord(i int) uint64 { return atomic.LoadUint64(r.wordPtr(i)) }
func (r *Ring) storeWord(i int, v uint64) {
	atomic.StoreUint64(r.wordPtr(i), v)
}

const (
	wordReadCursor = iota
	wordWriteCursor
	wordReadIndex
	wordWriteIndex
)

// Capacity returns the fixed data capacity of the ring in bytes.
func (r *Ring) Capacity() uint64 { return r.capacity }

// Readable returns write_cursor - read_cursor: bytes available to the
// consumer. The write cursor load is an acquire so the consumer observes
// every byte published before it, per the memory-model note in spec
// section 4.5.
func (r *Ring) Readable() uint64 {
	wc := r.loadWord(wordWriteCursor)
	rc := r.loadWord(wordReadCursor)
	return wc - rc
}

// Writable returns capacity - (write_cursor - read_cursor).
func (r *Ring) Writable() uint64 {
	return r.capacity - r.Readable()
}

// Write copies n bytes from src into the ring and advances the write
// cursor, which is the linearization point the consumer must not observe
// torn (spec section 4.5). Returns false (fail-soft) if n exceeds the
// currently writable space.
func (r *Ring) Write(src []byte, n int) bool {
	if uint64(n) > r.Writable() {
		return false
	}
	r.fillAt(src, n, 0)
	r.commitWrite(n)
	return true
}

// Fill stages n bytes at write_index+offset without advancing the write
// cursor, so a header and a body can be staged together and committed as
// one linearization point via CommitWrite.
func (r *Ring) Fill(src []byte, n int, offset int) {
	r.fillAt(src, n, offset)
}

func (r *Ring) fillAt(src []byte, n int, offset int) {
	wi := r.loadWord(wordWriteIndex)
	pos := (wi + uint64(offset)) % r.capacity
	first := r.capacity - pos
	if uint64(n) <= first {
		copy(r.data[pos:pos+uint64(n)], src[:n])
	} else {
		copy(r.data[pos:], src[:first])
		copy(r.data[:uint64(n)-first], src[first:n])
	}
}

// CommitWrite advances the write index and (with release ordering) the
// write cursor by n, publishing a sequence of prior Fill calls at once.
func (r *Ring) CommitWrite(n int) {
	r.commitWrite(n)
}

func (r *Ring) commitWrite(n int) {
	wi := r.loadWord(wordWriteIndex)
	r.storeWord(wordWriteIndex, (wi+uint64(n))%r.capacity)
	wc := r.loadWord(wordWriteCursor)
	atomic.StoreUint64(r.wordPtr(wordWriteCursor), wc+uint64(n)) // release publish
}

// Read copies n bytes from the ring into dst and advances the read
// cursor/index. Caller must have already checked Readable() >= n.
func (r *Ring) Read(dst []byte, n int) error {
	if uint64(n) > r.Readable() {
		return liberr.NewCode(liberr.CodeInvalidAction, "ring read: not enough readable bytes")
	}
	r.peekAt(dst, n, 0)
	ri := r.loadWord(wordReadIndex)
	r.storeWord(wordReadIndex, (ri+uint64(n))%r.capacity)
	rc := r.loadWord(wordReadCursor)
	atomic.StoreUint64(r.wordPtr(wordReadCursor), rc+uint64(n))
	return nil
}

// Peek copies n bytes at read_index+offset into dst without advancing
// anything.
func (r *Ring) Peek(dst []byte, n int, offset int) {
	r.peekAt(dst, n, offset)
}

func (r *Ring) peekAt(dst []byte, n int, offset int) {
	ri := r.loadWord(wordReadIndex)
	pos := (ri + uint64(offset)) % r.capacity
	first := r.capacity - pos
	if uint64(n) <= first {
		copy(dst[:n], r.data[pos:pos+uint64(n)])
	} else {
		copy(dst[:first], r.data[pos:])
		copy(dst[first:n], r.data[:uint64(n)-first])
	}
}

// bytesWritten/bytesRead expose the raw monotonic cursors for tests that
// check the quantified invariants of spec section 8 directly.
func (r *Ring) bytesWritten() uint64 { return r.loadWord(wordWriteCursor) }
func (r *Ring) bytesRead() uint64    { return r.loadWord(wordReadCursor) }

var _ = binary.LittleEndian // header words are native-endian uint64s written through sync/atomic; nothing in this package uses binary, this blank use only keeps the import.
