package transport

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	liberr "github.com/nabbar/simple-mesh/errors"
	kcp "github.com/xtaci/kcp-go/v5"
)

// Outer frame head: three magic bytes, one opcode byte, payload follows.
// This is the only framing the handshake/heartbeat/teardown state
// machine speaks; once a session reaches connected, opcode 'data'
// payloads are handed straight to a kcp-go UDPSession, which supplies
// the actual reliability layer (retransmission, ordering, congestion
// control) the original's "reliability context" described only in
// outline.
var kcpMagic = [3]byte{0x62, 0xF9, 0x8E}

type kcpOpcode byte

const (
	opConnect     kcpOpcode = 1
	opConnectAck  kcpOpcode = 2
	opDisconnect  kcpOpcode = 3
	opHeartbeat   kcpOpcode = 4
	opHeartbeatAck kcpOpcode = 5
	opData        kcpOpcode = 6
)

const kcpHeadSize = 4

// MaxSegmentPayload is the 470-byte UDP MTU budget minus the 4-byte
// outer head.
const MaxSegmentPayload = 470 - kcpHeadSize

const (
	kcpSendWindow    = 256
	kcpRecvWindow    = 256
	kcpReadTimeout   = 20 * time.Second
	kcpWriteTimeout  = 10 * time.Second
	kcpUpdateCadence = 10 * time.Millisecond
)

type kcpState int

const (
	stateNormal kcpState = iota
	stateConnected
	stateCloseWait
	stateClosed
)

func writeHead(dst []byte, op kcpOpcode) {
	_ = dst[:kcpHeadSize]
	copy(dst, kcpMagic[:])
	dst[3] = byte(op)
}

// demuxConn wraps a raw *net.UDPConn so that 'data'-opcode datagrams
// reach a kcp-go UDPSession/Listener transparently (magic+opcode
// stripped on read, re-added on write) while every other opcode is
// diverted to onControl instead of ever reaching kcp-go's parser.
type demuxConn struct {
	net.PacketConn
	onControl func(op kcpOpcode, body []byte, addr net.Addr)
}

func (d *demuxConn) ReadFrom(p []byte) (int, net.Addr, error) {
	buf := make([]byte, len(p)+kcpHeadSize)
	for {
		n, addr, err := d.PacketConn.ReadFrom(buf)
		if err != nil {
			return 0, addr, err
		}
		if n < kcpHeadSize || buf[0] != kcpMagic[0] || buf[1] != kcpMagic[1] || buf[2] != kcpMagic[2] {
			continue // framing-violated datagram; drop and keep reading
		}
		op := kcpOpcode(buf[3])
		body := buf[kcpHeadSize:n]
		if op != opData {
			d.onControl(op, body, addr)
			continue
		}
		return copy(p, body), addr, nil
	}
}

func (d *demuxConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	out := make([]byte, kcpHeadSize+len(p))
	writeHead(out, opData)
	copy(out[kcpHeadSize:], p)
	n, err := d.PacketConn.WriteTo(out, addr)
	return n - kcpHeadSize, err
}

func sendControl(conn net.PacketConn, op kcpOpcode, body []byte, addr net.Addr) error {
	out := make([]byte, kcpHeadSize+len(body))
	writeHead(out, op)
	copy(out[kcpHeadSize:], body)
	_, err := conn.WriteTo(out, addr)
	return err
}

// KCPConn is a connected, state-tracked KCP session: the outer
// handshake/heartbeat/teardown state machine plus a kcp-go UDPSession
// for the CONNECTED-state data path.
type KCPConn struct {
	sess   *kcp.UDPSession
	sink   EventSink
	peer   net.Addr
	demux  *demuxConn

	mu         sync.Mutex
	state      kcpState
	lastRead   time.Time
	lastWrite  time.Time

	watchdogStop chan struct{}
}

func newKCPConn(sess *kcp.UDPSession, demux *demuxConn, peer net.Addr, sink EventSink) *KCPConn {
	sess.SetWindowSize(kcpSendWindow, kcpRecvWindow)
	now := time.Now()
	c := &KCPConn{
		sess: sess, demux: demux, peer: peer, sink: sink,
		state: stateConnected, lastRead: now, lastWrite: now,
		watchdogStop: make(chan struct{}),
	}
	go c.readLoop()
	go c.watchdog()
	return c
}

func (c *KCPConn) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.sess.Read(buf)
		if err != nil {
			c.Stop(err)
			return
		}
		c.mu.Lock()
		c.lastRead = time.Now()
		c.mu.Unlock()

		payload := make([]byte, n)
		copy(payload, buf[:n])
		c.sink(Event{Kind: Data, Payload: payload})
	}
}

func (c *KCPConn) watchdog() {
	ticker := time.NewTicker(kcpUpdateCadence * 100) // 1s cadence is enough for idle/heartbeat checks
	defer ticker.Stop()
	for {
		select {
		case <-c.watchdogStop:
			return
		case <-ticker.C:
			c.mu.Lock()
			sinceRead := time.Since(c.lastRead)
			sinceWrite := time.Since(c.lastWrite)
			c.mu.Unlock()

			if sinceRead >= kcpReadTimeout {
				c.Stop(liberr.NewCode(liberr.CodeTimedOut, "transport: kcp heartbeat timeout"))
				return
			}
			if sinceWrite >= kcpWriteTimeout {
				_ = sendControl(c.demux.PacketConn, opHeartbeat, nil, c.peer)
				c.mu.Lock()
				c.lastWrite = time.Now()
				c.mu.Unlock()
			}
		}
	}
}

func (c *KCPConn) Write(buf []byte) error {
	c.mu.Lock()
	c.lastWrite = time.Now()
	c.mu.Unlock()
	_, err := c.sess.Write(buf)
	return err
}

func (c *KCPConn) SetNoDelay(enabled bool) {
	if enabled {
		c.sess.SetNoDelay(1, 10, 2, 1)
	} else {
		c.sess.SetNoDelay(0, 40, 0, 0)
	}
}

// Stop moves the session straight to CLOSED (stateCloseWait is never
// entered) and, when this side initiated the teardown (cause == nil),
// sends a disconnect frame and reports initiative_disconnect.
func (c *KCPConn) Stop(cause error) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	selfInitiated := cause == nil
	c.state = stateClosed
	c.mu.Unlock()

	close(c.watchdogStop)
	_ = c.sess.Close()
	if selfInitiated {
		_ = sendControl(c.demux.PacketConn, opDisconnect, nil, c.peer)
		cause = liberr.NewCode(liberr.CodeInvalidAction, "transport: initiative_disconnect")
	}
	c.sink(Event{Kind: Stopped, Err: cause})
}

func (c *KCPConn) onDisconnect() {
	c.Stop(liberr.NewCode(liberr.CodePeerDisconnected, "transport: kcp eof"))
}

func (c *KCPConn) LocalAddr() net.Addr  { return c.sess.LocalAddr() }
func (c *KCPConn) RemoteAddr() net.Addr { return c.peer }

// DialKCP performs the client handshake (send connect, await
// connect_ack carrying the server-assigned conv) and returns a connected
// KCPConn.
func DialKCP(addr string, sink EventSink) (*KCPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: resolve kcp address", err)
	}
	udp, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: dial kcp udp", err)
	}

	ackCh := make(chan uint32, 1)
	demux := &demuxConn{PacketConn: udp, onControl: func(op kcpOpcode, body []byte, _ net.Addr) {
		if op == opConnectAck && len(body) >= 4 {
			select {
			case ackCh <- binary.BigEndian.Uint32(body[:4]):
			default:
			}
		}
	}}

	// Harvest the connect_ack with a throwaway reader, since kcp-go does
	// not exist yet to own the socket during the handshake. This reader
	// must stop before kcp.NewConn4 starts its own read loop below — two
	// readers on the same demuxConn would race for every datagram
	// (including the first 'data'-opcode payloads), and whichever one
	// loses discards them silently.
	discardDone := make(chan struct{})
	go func() {
		defer close(discardDone)
		var discard [2048]byte
		for {
			if _, _, err := demux.ReadFrom(discard[:]); err != nil {
				return
			}
		}
	}()

	if err := sendControl(demux, opConnect, nil, raddr); err != nil {
		_ = udp.SetReadDeadline(time.Unix(0, 1))
		<-discardDone
		_ = udp.Close()
		return nil, err
	}

	var conv uint32
	select {
	case conv = <-ackCh:
	case <-time.After(5 * time.Second):
		_ = udp.SetReadDeadline(time.Unix(0, 1))
		<-discardDone
		_ = udp.Close()
		return nil, liberr.NewCode(liberr.CodeTimedOut, "transport: kcp connect_ack timed out")
	}

	// Force the discard goroutine's blocked ReadFrom to return (a past
	// deadline errors out a pending read without discarding any datagram
	// still queued in the OS socket buffer), then clear the deadline so
	// it does not affect kcp-go's own reads.
	_ = udp.SetReadDeadline(time.Unix(0, 1))
	<-discardDone
	_ = udp.SetReadDeadline(time.Time{})

	sess, err := kcp.NewConn4(conv, raddr, nil, 0, 0, false, demux)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: create kcp session", err)
	}

	conn := newKCPConn(sess, demux, raddr, sink)
	sink(Event{Kind: Started})
	return conn, nil
}

// KCPListener fields inbound 'connect' opcodes, allocates a conv via
// nextID, and replies with connect_ack before handing a ready KCPConn
// off as an Accepted event.
type KCPListener struct {
	demux  *demuxConn
	sink   EventSink
	nextID func() uint64

	mu    sync.Mutex
	conns map[string]*KCPConn
}

// ListenKCP binds addr and begins servicing inbound handshakes and data.
func ListenKCP(addr string, nextID func() uint64, sink EventSink) (*KCPListener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: resolve kcp listen address", err)
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: listen kcp udp", err)
	}

	l := &KCPListener{sink: sink, nextID: nextID, conns: make(map[string]*KCPConn)}
	l.demux = &demuxConn{PacketConn: udp, onControl: l.onControl}

	kl, err := kcp.ServeConn(nil, 0, 0, l.demux)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: serve kcp listener", err)
	}
	go l.acceptLoop(kl)
	sink(Event{Kind: Started})
	return l, nil
}

func (l *KCPListener) onControl(op kcpOpcode, body []byte, addr net.Addr) {
	switch op {
	case opConnect:
		conv := uint32(l.nextID())
		var ack [4]byte
		binary.BigEndian.PutUint32(ack[:], conv)
		_ = sendControl(l.demux, opConnectAck, ack[:], addr)
	case opHeartbeat:
		_ = sendControl(l.demux, opHeartbeatAck, nil, addr)
	case opDisconnect:
		l.mu.Lock()
		c, ok := l.conns[addr.String()]
		if ok {
			delete(l.conns, addr.String())
		}
		l.mu.Unlock()
		if ok {
			c.onDisconnect()
		}
	}
}

func (l *KCPListener) acceptLoop(kl *kcp.Listener) {
	for {
		sess, err := kl.AcceptKCP()
		if err != nil {
			l.sink(Event{Kind: Stopped, Err: err})
			return
		}
		conn := newKCPConn(sess, l.demux, sess.RemoteAddr(), l.sink)
		l.mu.Lock()
		l.conns[sess.RemoteAddr().String()] = conn
		l.mu.Unlock()

		l.sink(Event{
			Kind:       Accepted,
			ChildID:    uint64(sess.GetConv()),
			LocalAddr:  sess.LocalAddr(),
			RemoteAddr: sess.RemoteAddr(),
			Child:      conn,
		})
	}
}

// Addr returns the listener's bound local address, letting a caller
// that dialed port 0 (an ephemeral port) discover what was actually
// bound, matching TCPListener.Addr.
func (l *KCPListener) Addr() net.Addr { return l.demux.PacketConn.(*net.UDPConn).LocalAddr() }

func (l *KCPListener) Stop(cause error) {
	_ = l.demux.PacketConn.Close()
	l.sink(Event{Kind: Stopped, Err: cause})
}
