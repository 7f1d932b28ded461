// Package wsframe implements RFC 6455 WebSocket framing: the handshake
// (client dial / server upgrade) is delegated to gorilla/websocket, but
// frame encode/decode is hand-rolled here because the gate façade needs
// raw frame access (masking, opcode, control vs. data) rather than
// gorilla's message-oriented ReadMessage/WriteMessage API.
package wsframe

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Upgrade completes the server-side handshake on w/r and hands back the
// raw net.Conn gorilla negotiated, so this package's frame codec (not
// gorilla's) drives the connection from here on.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{underlying: wsConn.NetConn(), isServer: true}, nil
}

// Dial completes the client-side handshake against url and hands back
// the raw net.Conn.
func Dial(url string, header http.Header) (*Conn, error) {
	wsConn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return &Conn{underlying: wsConn.NetConn(), isServer: false}, nil
}
