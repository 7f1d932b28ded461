// Package gateconnector is the service-side client of a gate: it
// registers this service with the local gate over TCP, then exchanges
// most traffic over a shared-memory channel (TCP is the control plane;
// shared memory is the data path).
package gateconnector

import (
	"math/rand"
	"sync"

	"github.com/nabbar/simple-mesh/cancel"
	liberr "github.com/nabbar/simple-mesh/errors"
	"github.com/nabbar/simple-mesh/gateproto"
	"github.com/nabbar/simple-mesh/netframe"
	"github.com/nabbar/simple-mesh/rpcsession"
)

// ChannelSender abstracts the outbound path a call writes its request
// onto — a gate.LocalChannel in production, a bare shmchannel.Channel in
// tests.
type ChannelSender interface {
	Write(header netframe.ShmHeader, payload []byte)
}

// Dispatcher is invoked for every inbound frame that is not a matching
// RPC reply, so the embedding service can route s_gate_forward_brd-style
// traffic and service_subscribe_brd updates to its own handlers.
type Dispatcher func(header netframe.ShmHeader, payload []byte)

// Connector is the service-side gate client.
type Connector struct {
	selfID uint64
	gateID uint64

	sessions *rpcsession.Registry
	send     ChannelSender
	dispatch Dispatcher

	mu          sync.Mutex
	subscribers map[uint32][]uint64
}

// New builds a Connector for selfID, already registered with gateID,
// writing outbound frames through send and routing anything that is not
// an RPC reply to dispatch.
func New(selfID, gateID uint64, sessions *rpcsession.Registry, send ChannelSender, dispatch Dispatcher) *Connector {
	return &Connector{
		selfID: selfID, gateID: gateID,
		sessions: sessions, send: send, dispatch: dispatch,
		subscribers: make(map[uint32][]uint64),
	}
}

// HandleInbound is the single entry point for every frame this
// connector's channel-read loop (or TCP read loop) decodes: it resumes a
// matching RPC session when msg_id is a reply category and a session is
// waiting, and otherwise forwards to dispatch.
func (c *Connector) HandleInbound(header netframe.ShmHeader, payload []byte) {
	msgID := gateproto.MsgID(header.MsgID)
	if msgID.IsReply() && header.Session != 0 {
		if c.sessions.WakeUpWithData(header.Session, payload) {
			return
		}
	}
	c.dispatch(header, payload)
}

// Call allocates a session, writes the request onto the shared-memory
// channel (not TCP), and awaits the reply, honoring tok for
// cancellation/timeout composition via the caller's OR-with-sleep.
func (c *Connector) Call(tok cancel.Token, to uint64, msgID uint16, req []byte) ([]byte, error) {
	session := c.sessions.CreateSession()
	c.send.Write(netframe.ShmHeader{
		FromService: uint16(c.selfID),
		ToService:   uint16(to),
		MsgID:       msgID,
		Session:     session,
	}, req)
	return c.sessions.Await(tok, session)
}

// OnSubscribeBroadcast updates the locally cached online-service list
// for svcType in response to a service_subscribe_brd frame.
func (c *Connector) OnSubscribeBroadcast(svcType uint32, services []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[svcType] = services
}

// Subscribe RPC-calls the gate for svcType's current service list and
// caches it locally.
func (c *Connector) Subscribe(tok cancel.Token, svcType uint32) ([]uint64, error) {
	reply, err := c.Call(tok, c.gateID, uint16(gateproto.S2SReq), encodeUint32(svcType))
	if err != nil {
		return nil, err
	}
	services := decodeUint64List(reply)
	c.OnSubscribeBroadcast(svcType, services)
	return services, nil
}

// RandSubscribe picks a uniformly random service ID from svcType's
// cached list. It does not itself know which are online versus merely
// registered; callers that need "online only" must filter via the
// service registry's own online flag before calling this.
func (c *Connector) RandSubscribe(svcType uint32) (uint64, error) {
	c.mu.Lock()
	services := c.subscribers[svcType]
	c.mu.Unlock()
	if len(services) == 0 {
		return 0, liberr.NewCode(liberr.CodeInvalidAction, "gateconnector: no known services of requested type")
	}
	return services[rand.Intn(len(services))], nil
}

func encodeUint32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func decodeUint64List(b []byte) []uint64 {
	out := make([]uint64, 0, len(b)/8)
	for i := 0; i+8 <= len(b); i += 8 {
		var v uint64
		for j := 0; j < 8; j++ {
			v |= uint64(b[i+j]) << (8 * j)
		}
		out = append(out, v)
	}
	return out
}
