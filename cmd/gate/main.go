// Command gate runs one per-host routing mesh node: it registers its
// services with the master, accepts connections from local services and
// peer gates, and forwards frames between them through a Router.
package main

import (
	"flag"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nabbar/simple-mesh/backoff"
	"github.com/nabbar/simple-mesh/cancel"
	"github.com/nabbar/simple-mesh/gate"
	"github.com/nabbar/simple-mesh/logging"
	"github.com/nabbar/simple-mesh/netfacade"
	"github.com/nabbar/simple-mesh/netframe"
	"github.com/nabbar/simple-mesh/shm"
	"github.com/nabbar/simple-mesh/shmchannel"
	"github.com/nabbar/simple-mesh/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// Message IDs local to this gate's control channels. The local channel
// carries service_register_req/ack between a service process and this
// gate; the remote channel carries gate_register_req/ack and forwarded
// frames between peer gates. Both ride the same net-header framing as
// the master's control channel.
const (
	msgServiceRegisterReq = 0x4101
	msgServiceRegisterAck = 0x5101
	msgGateRegisterReq    = 0x4001
	msgGateRegisterAck    = 0x5001
	msgPingReq            = 0x4003
	msgForward            = 0x4200

	ringCapacity = 256 * 1024
)

func main() {
	gateID := flag.Uint64("gate-id", 1, "this gate's identity, as configured with the master")
	masterAddr := flag.String("master", "127.0.0.1:7000", "TCP address of the gatemaster")
	localAddr := flag.String("local-listen", ":9100", "TCP address this gate accepts service connections on")
	remoteAddr := flag.String("remote-listen", ":9200", "TCP address this gate accepts peer-gate connections on")
	flag.Parse()

	log := logging.Default()
	metrics := gate.NewMetrics(prometheus.DefaultRegisterer)

	g := &gateNode{
		gateID:  *gateID,
		log:     log,
		metrics: metrics,
		local:   map[uint64]*gate.LocalChannel{},
		peers:   map[uint64]transport.Transport{},
	}
	g.router = gate.NewRouter(g, g, metrics)

	var nextID uint64
	allocID := func() uint64 { return atomic.AddUint64(&nextID, 1) }

	if _, err := transport.ListenTCP(*localAddr, allocID, g.onLocalEvent); err != nil {
		log.Fatalf("gate %d: listen local %s: %v", *gateID, *localAddr, err)
	}
	log.Infof("gate %d: accepting service connections on %s", *gateID, *localAddr)

	if _, err := transport.ListenTCP(*remoteAddr, allocID, g.onRemoteEvent); err != nil {
		log.Fatalf("gate %d: listen remote %s: %v", *gateID, *remoteAddr, err)
	}
	log.Infof("gate %d: accepting peer-gate connections on %s", *gateID, *remoteAddr)

	go g.runMasterConnector(*masterAddr)

	select {}
}

// gateNode is this process's single Router sink: WriteLocal hands a frame
// to the owning service's shared-memory channel, ForwardToPeer hands it
// to the TCP connection of the peer gate that owns it.
type gateNode struct {
	gateID  uint64
	log     *logging.Logger
	metrics *gate.Metrics
	router  *gate.Router

	mu    sync.Mutex
	local map[uint64]*gate.LocalChannel
	peers map[uint64]transport.Transport

	localSockets map[uint64]*netHandshakeConn
}

func (g *gateNode) WriteLocal(serviceID uint64, f gate.Frame) {
	g.mu.Lock()
	ch := g.local[serviceID]
	g.mu.Unlock()
	if ch == nil {
		return
	}
	ch.Write(netframe.ShmHeader{FromService: f.From, ToService: f.To, MsgID: f.MsgID, Session: f.Session}, f.Payload)
}

func (g *gateNode) ForwardToPeer(gateID uint64, f gate.Frame) {
	g.mu.Lock()
	peer := g.peers[gateID]
	g.mu.Unlock()
	if peer == nil {
		return
	}
	_ = peer.Write(encodeFrame(msgForward, f))
}

func encodeFrame(msgID uint16, f gate.Frame) []byte {
	body := make([]byte, 16+len(f.Payload))
	(netframe.ShmHeader{FromService: f.From, ToService: f.To, MsgID: f.MsgID, Session: f.Session}).Encode(body)
	copy(body[16:], f.Payload)

	head := netframe.Header{MsgID: msgID, Length: uint32(len(body)), Session: f.Session}
	buf := make([]byte, netframe.NetHeaderSize+len(body))
	head.Encode(buf)
	copy(buf[netframe.NetHeaderSize:], body)
	return buf
}

// onLocalEvent handles the local_listener socket: it waits for one
// service_register_req frame, allocates the service's shared-memory
// channel, registers the service with the Router, and from then on
// treats further Data on this connection as framed ShmHeader traffic
// forwarded straight into the Router.
func (g *gateNode) onLocalEvent(ev transport.Event) {
	if ev.Kind != transport.Accepted {
		return
	}
	conn := ev.Child
	hs := newNetHandshakeConn(conn)

	go func() {
		head, payload, err := hs.readOne()
		if err != nil || head.MsgID != msgServiceRegisterReq {
			g.log.Warnf("gate %d: local socket %d: bad registration: %v", g.gateID, ev.ChildID, err)
			conn.Stop(nil)
			return
		}
		serviceID, svcType, ok := decodeServiceRegisterReq(payload)
		if !ok {
			conn.Stop(nil)
			return
		}

		out, err := shm.NewAnonymous(ringCapacity)
		if err != nil {
			g.log.Errorf("gate %d: allocate channel for service %d: %v", g.gateID, serviceID, err)
			conn.Stop(nil)
			return
		}
		in, err := shm.NewAnonymous(ringCapacity)
		if err != nil {
			conn.Stop(nil)
			return
		}
		ch := shmchannel.New(out.Ring, in.Ring)
		lc := gate.NewLocalChannel(ch, nil)

		g.mu.Lock()
		g.local[serviceID] = lc
		g.mu.Unlock()

		for _, f := range g.router.RegisterLocal(serviceID, svcType) {
			g.WriteLocal(serviceID, f)
		}

		ackHead := netframe.Header{MsgID: msgServiceRegisterAck, Session: serviceID}
		buf := make([]byte, netframe.NetHeaderSize)
		ackHead.Encode(buf)
		_ = conn.Write(buf)

		for {
			_, fpayload, err := hs.readOne()
			if err != nil {
				break
			}
			shmHead, err := netframe.DecodeShmHeader(fpayload)
			if err != nil {
				continue
			}
			g.router.Forward(gate.Frame{
				From:    shmHead.FromService,
				To:      shmHead.ToService,
				MsgID:   shmHead.MsgID,
				Session: shmHead.Session,
				Payload: fpayload[netframe.ShmHeaderSize:],
			})
		}

		g.mu.Lock()
		delete(g.local, serviceID)
		g.mu.Unlock()
		lc.Close()
	}()
}

func (g *gateNode) onRemoteEvent(ev transport.Event) {
	if ev.Kind != transport.Accepted {
		return
	}
	conn := ev.Child
	hs := newNetHandshakeConn(conn)

	go func() {
		head, payload, err := hs.readOne()
		if err != nil || head.MsgID != msgGateRegisterReq || len(payload) < 8 {
			conn.Stop(nil)
			return
		}
		peerGateID := decodeUint64(payload)

		g.mu.Lock()
		g.peers[peerGateID] = conn
		g.mu.Unlock()

		ackHead := netframe.Header{MsgID: msgGateRegisterAck}
		buf := make([]byte, netframe.NetHeaderSize)
		ackHead.Encode(buf)
		_ = conn.Write(buf)

		for {
			fhead, fpayload, err := hs.readOne()
			if err != nil {
				break
			}
			if fhead.MsgID != msgForward {
				continue
			}
			shmHead, err := netframe.DecodeShmHeader(fpayload)
			if err != nil {
				continue
			}
			g.router.Forward(gate.Frame{
				From:    shmHead.FromService,
				To:      shmHead.ToService,
				MsgID:   shmHead.MsgID,
				Session: shmHead.Session,
				Payload: fpayload[netframe.ShmHeaderSize:],
			})
		}

		g.mu.Lock()
		delete(g.peers, peerGateID)
		g.mu.Unlock()
	}()
}

// runMasterConnector dials the master, registers this gate, and pings it
// periodically, reconnecting with the shared backoff table whenever the
// connection drops.
func (g *gateNode) runMasterConnector(masterAddr string) {
	failures := 0
	for {
		stopped := make(chan struct{})
		var closeOnce sync.Once
		conn, err := transport.DialTCP(masterAddr, func(ev transport.Event) {
			if ev.Kind == transport.Stopped {
				closeOnce.Do(func() { close(stopped) })
			}
		})
		if err != nil {
			g.log.Warnf("gate %d: dial master %s: %v", g.gateID, masterAddr, err)
			time.Sleep(backoff.Delay(failures))
			failures++
			continue
		}
		failures = 0

		head := netframe.Header{MsgID: msgGateRegisterReq, Session: g.gateID}
		buf := make([]byte, netframe.NetHeaderSize)
		head.Encode(buf)
		_ = conn.Write(buf)

		g.log.Infof("gate %d: registered with master %s", g.gateID, masterAddr)

		ticker := time.NewTicker(20 * time.Second)
		go func() {
			for {
				select {
				case <-stopped:
					ticker.Stop()
					return
				case <-ticker.C:
					ping := netframe.Header{MsgID: msgPingReq, Session: g.gateID}
					pbuf := make([]byte, netframe.NetHeaderSize)
					ping.Encode(pbuf)
					_ = conn.Write(pbuf)
				}
			}
		}()

		<-stopped
		g.log.Warnf("gate %d: lost connection to master %s, reconnecting", g.gateID, masterAddr)
	}
}

func decodeServiceRegisterReq(payload []byte) (serviceID uint64, svcType uint32, ok bool) {
	if len(payload) < 12 {
		return 0, 0, false
	}
	return decodeUint64(payload), decodeUint32(payload[8:]), true
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func decodeUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

