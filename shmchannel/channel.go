// Package shmchannel implements spec section 4.6: a shared-memory
// channel wrapping a pair of SPSC rings (outbound and inbound), with
// u32-length-prefixed message framing on top of the raw byte ring.
package shmchannel

import (
	"encoding/binary"

	liberr "github.com/nabbar/simple-mesh/errors"
	"github.com/nabbar/simple-mesh/shm"
)

const lengthPrefixSize = 4

// ReadResult is the outcome of TryRead.
type ReadResult struct {
	// N is the payload length read into buf, valid when Status == ReadOK.
	N int
	Status ReadStatus
	// Need is the payload length the caller must resize buf to, valid
	// when Status == ReadNeedBigger.
	Need int
}

type ReadStatus int

const (
	// ReadEmpty: fewer than 4 bytes readable, or the full framed message
	// has not arrived yet.
	ReadEmpty ReadStatus = iota
	// ReadNeedBigger: the next message's length exceeds len(buf); caller
	// must retry with a buffer of at least Need bytes. Non-consuming.
	ReadNeedBigger
	// ReadOK: a full message was read and consumed.
	ReadOK
)

// Channel is a bidirectional pair of rings: Out carries bytes this
// endpoint produces, In carries bytes the peer produced.
type Channel struct {
	Out *shm.Ring
	In  *shm.Ring
}

// New wraps an already-created/attached outbound/inbound ring pair.
func New(out, in *shm.Ring) *Channel {
	return &Channel{Out: out, In: in}
}

// TryWrite stages a u32 length prefix plus the n-byte body and commits
// both in one linearization point. Returns false if the outbound ring
// does not currently have writable >= 4+n bytes (spec section 4.6).
func (c *Channel) TryWrite(buf []byte, n int) bool {
	total := lengthPrefixSize + n
	if c.Out.Writable() < uint64(total) {
		return false
	}
	var lenBuf [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(n))
	c.Out.Fill(lenBuf[:], lengthPrefixSize, 0)
	c.Out.Fill(buf[:n], n, lengthPrefixSize)
	c.Out.CommitWrite(total)
	return true
}

// TryRead attempts to read one framed message out of the inbound ring
// into buf (whose capacity is size). See ReadResult/ReadStatus for the
// three possible outcomes; all non-OK outcomes are non-consuming.
func (c *Channel) TryRead(buf []byte, size int) ReadResult {
	if c.In.Readable() < lengthPrefixSize {
		return ReadResult{Status: ReadEmpty}
	}

	var lenBuf [lengthPrefixSize]byte
	c.In.Peek(lenBuf[:], lengthPrefixSize, 0)
	length := int(binary.LittleEndian.Uint32(lenBuf[:]))

	if size < length {
		return ReadResult{Status: ReadNeedBigger, Need: length}
	}
	if c.In.Readable() < uint64(lengthPrefixSize+length) {
		// Header arrived but body has not yet (e.g. writer is mid-Fill);
		// spec section 4.6 treats this as "empty" rather than torn.
		return ReadResult{Status: ReadEmpty}
	}

	c.In.Peek(buf[:length], length, lengthPrefixSize)
	_ = c.In.Read(make([]byte, lengthPrefixSize+length), lengthPrefixSize+length)
	return ReadResult{N: length, Status: ReadOK}
}

// MustTryRead is a thin convenience over TryRead that turns the
// non-OK/need-bigger states into an error, for callers that already
// grew buf to the announced size and only expect ReadOK or ReadEmpty.
func (c *Channel) MustTryRead(buf []byte) (int, error) {
	res := c.TryRead(buf, len(buf))
	switch res.Status {
	case ReadOK:
		return res.N, nil
	case ReadEmpty:
		return 0, liberr.NewCode(liberr.CodeInvalidAction, "shmchannel: read attempted with nothing ready")
	default:
		return 0, liberr.NewCode(liberr.CodeInvalidAction, "shmchannel: buffer smaller than pending message")
	}
}
