// Package netframe encodes and decodes the two fixed-layout headers that
// travel ahead of every serialized message in this system: the 16-byte
// net header used on TCP/TLS/KCP streams between nodes, and the 16-byte
// shared-memory frame header used on ring-buffer channels between
// co-located processes. Both are little-endian, fixed-width, and framed
// by a length prefix at the transport or ring level — this package does
// no I/O itself.
package netframe

import (
	"encoding/binary"

	liberr "github.com/nabbar/simple-mesh/errors"
)

// Sentinel is the constant value the net header's first byte must equal;
// any other value means the stream has desynchronized and must be closed.
const Sentinel = 0x5A

// MaxPayloadLength bounds a single net-framed message's payload.
const MaxPayloadLength = 10 * 1024 * 1024

// NetHeaderSize is the fixed wire size of Header, not including payload.
const NetHeaderSize = 16

// Header is the net-frame header: sentinel+reserved+msg_id+length+session.
type Header struct {
	MsgID   uint16
	Length  uint32
	Session uint64
}

// Encode writes the 16-byte header into dst (which must be at least
// NetHeaderSize long) in wire order.
func (h Header) Encode(dst []byte) {
	_ = dst[:NetHeaderSize]
	dst[0] = Sentinel
	dst[1] = 0
	binary.LittleEndian.PutUint16(dst[2:4], h.MsgID)
	binary.LittleEndian.PutUint32(dst[4:8], h.Length)
	binary.LittleEndian.PutUint64(dst[8:16], h.Session)
}

// DecodeHeader parses a 16-byte net header. It rejects a bad sentinel and
// an over-length payload so the caller can close the connection rather
// than attempt to read a desynchronized stream.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < NetHeaderSize {
		return Header{}, liberr.NewCode(liberr.CodeFramingViolated, "netframe: header truncated")
	}
	if src[0] != Sentinel {
		return Header{}, liberr.NewCode(liberr.CodeFramingViolated, "netframe: bad sentinel")
	}
	length := binary.LittleEndian.Uint32(src[4:8])
	if length > MaxPayloadLength {
		return Header{}, liberr.NewCode(liberr.CodeFramingViolated, "netframe: payload exceeds maximum length")
	}
	return Header{
		MsgID:   binary.LittleEndian.Uint16(src[2:4]),
		Length:  length,
		Session: binary.LittleEndian.Uint64(src[8:16]),
	}, nil
}
