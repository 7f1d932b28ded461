package netframe

import "encoding/binary"

// ShmHeaderSize is the fixed wire size of ShmHeader, not including payload.
const ShmHeaderSize = 16

// ShmHeader is the shared-memory frame header: it adds from/to service
// routing ahead of the same msg_id/session fields the net header carries.
// The ring-buffer length prefix (u32 length_of_full_frame) lives one
// level up, in package shmchannel, not here.
type ShmHeader struct {
	FromService uint16
	ToService   uint16
	MsgID       uint16
	Flag        uint16
	Session     uint64
}

// Encode writes the 16-byte header into dst in wire order.
func (h ShmHeader) Encode(dst []byte) {
	_ = dst[:ShmHeaderSize]
	binary.LittleEndian.PutUint16(dst[0:2], h.FromService)
	binary.LittleEndian.PutUint16(dst[2:4], h.ToService)
	binary.LittleEndian.PutUint16(dst[4:6], h.MsgID)
	binary.LittleEndian.PutUint16(dst[6:8], h.Flag)
	binary.LittleEndian.PutUint64(dst[8:16], h.Session)
}

// DecodeShmHeader parses a 16-byte shared-memory frame header.
func DecodeShmHeader(src []byte) ShmHeader {
	_ = src[:ShmHeaderSize]
	return ShmHeader{
		FromService: binary.LittleEndian.Uint16(src[0:2]),
		ToService:   binary.LittleEndian.Uint16(src[2:4]),
		MsgID:       binary.LittleEndian.Uint16(src[4:6]),
		Flag:        binary.LittleEndian.Uint16(src[6:8]),
		Session:     binary.LittleEndian.Uint64(src[8:16]),
	}
}
