// Package gate implements the per-host routing mesh node: it owns the
// local services' shared-memory channels, forwards frames to the right
// destination (local ring, or a peer gate's connector), and queues
// frames for services that have not registered yet.
package gate

// Frame is the routable unit the gate forwards: header fields plus an
// opaque serialized payload.
type Frame struct {
	From    uint64
	To      uint64
	MsgID   uint16
	Session uint64
	Payload []byte
}
