// Command gatemaster runs the mesh's central topology registry: the one
// process every gate dials. A gate_register_req only records the sending
// gate's ID (the header's session field): no services are written to the
// registry and no ack or peer list is sent back. A service_update_req only
// refreshes the metrics gauges, and a ping_req gets an empty ping ack.
package main

import (
	"bufio"
	"flag"
	"io"
	"net"

	"github.com/nabbar/simple-mesh/gatemaster"
	"github.com/nabbar/simple-mesh/logging"
	"github.com/nabbar/simple-mesh/netframe"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	addr := flag.String("listen", ":7000", "TCP address the master listens on for gate connections")
	flag.Parse()

	log := logging.Default()
	registry := gatemaster.New()
	metrics := gatemaster.NewMetrics(prometheus.DefaultRegisterer)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("gatemaster: listen %s: %v", *addr, err)
	}
	log.Infof("gatemaster: listening on %s", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Errorf("gatemaster: accept: %v", err)
			continue
		}
		go handlePeer(conn, registry, metrics, log)
	}
}

// handlePeer reads length-prefixed net-header frames off one gate's TCP
// connection until it disconnects, then passes the gate's ID to
// Registry.HandlePeerDisconnect. Nothing in this loop adds the gate or
// its services to the registry, so that call finds no services to mark
// offline.
func handlePeer(conn net.Conn, registry *gatemaster.Registry, metrics *gatemaster.Metrics, log *logging.Logger) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	var gateID uint64
	registered := false

	for {
		var headBuf [netframe.NetHeaderSize]byte
		if _, err := io.ReadFull(r, headBuf[:]); err != nil {
			break
		}
		head, err := netframe.DecodeHeader(headBuf[:])
		if err != nil {
			log.Warnf("gatemaster: %v", err)
			break
		}
		payload := make([]byte, head.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}

		switch {
		case head.MsgID == msgGateRegisterReq:
			gateID = head.Session
			registered = true
			metrics.Refresh(registry)
		case head.MsgID == msgServiceUpdateReq:
			metrics.Refresh(registry)
		case head.MsgID == msgPingReq:
			// reply immediately with no body; the caller's watchdog only
			// cares that a response arrives before its timeout.
			writeFrame(conn, netframe.Header{MsgID: msgPingAck, Session: head.Session}, nil)
		}
	}

	if registered {
		registry.HandlePeerDisconnect(gateID)
		metrics.PeerDisconnects.Inc()
		metrics.Refresh(registry)
	}
}

// Message IDs local to the master<->gate control channel; these are
// S2S-category IDs per the mesh's msg_id space, assigned sequentially
// here since the wire format treats them as opaque 16-bit values.
const (
	msgGateRegisterReq  = 0x4001
	msgServiceUpdateReq = 0x4002
	msgPingReq          = 0x4003
	msgPingAck          = 0x5003
)

func writeFrame(w net.Conn, head netframe.Header, payload []byte) {
	head.Length = uint32(len(payload))
	buf := make([]byte, netframe.NetHeaderSize+len(payload))
	head.Encode(buf)
	copy(buf[netframe.NetHeaderSize:], payload)
	_, _ = w.Write(buf)
}
