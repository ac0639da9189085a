package wire

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wraith-network/wraith/pkg/transport"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// WebSocketTransport carries WRAITH packets as WebSocket binary frames
// over an established connection, so each sealed packet looks like one
// application message of a WebSocket session rather than a bare UDP
// datagram. Unlike TLSRecordWrapper and DoHWrapper (stateless per-packet
// reshaping), WebSocket framing is inherently connection-oriented, so this
// type implements transport.Transport directly instead of the stateless
// Wrapper interface.
type WebSocketTransport struct {
	conn *websocket.Conn
	self net.Addr
	peer net.Addr
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  9216,
	WriteBufferSize: 9216,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DialWebSocket establishes an outbound WebSocket connection to url (e.g.
// "ws://host:port/wraith") and wraps it as a Transport.
func DialWebSocket(url string) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "websocket dial", err)
	}
	return &WebSocketTransport{conn: conn, self: conn.LocalAddr(), peer: conn.RemoteAddr()}, nil
}

// UpgradeWebSocket upgrades an inbound HTTP request to a WebSocket
// connection and wraps it as a Transport, for the responder side.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*WebSocketTransport, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "websocket upgrade", err)
	}
	return &WebSocketTransport{conn: conn, self: conn.LocalAddr(), peer: conn.RemoteAddr()}, nil
}

// Send writes packet as one binary WebSocket frame. addr is accepted for
// transport.Transport interface compatibility but ignored: a WebSocket
// transport is a single point-to-point stream, not a multi-peer socket.
func (t *WebSocketTransport) Send(addr net.Addr, packet []byte) error {
	if err := t.conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
		return wraitherr.Wrap(wraitherr.PeerUnreachable, "websocket write", err)
	}
	return nil
}

func (t *WebSocketTransport) Recv() (transport.Datagram, error) {
	typ, payload, err := t.conn.ReadMessage()
	if err != nil {
		return transport.Datagram{}, wraitherr.Wrap(wraitherr.ConnectionClosed, "websocket read", err)
	}
	if typ != websocket.BinaryMessage {
		return transport.Datagram{}, wraitherr.New(wraitherr.FrameMalformed, "unexpected websocket message type")
	}
	return transport.Datagram{Addr: t.peer, Payload: payload}, nil
}

func (t *WebSocketTransport) LocalAddr() net.Addr {
	return t.self
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}

// SetDeadlines applies read/write deadlines to the underlying connection,
// mirroring the deadline-respecting style of a plain datagram socket.
func (t *WebSocketTransport) SetDeadlines(d time.Duration) {
	deadline := time.Now().Add(d)
	_ = t.conn.SetReadDeadline(deadline)
	_ = t.conn.SetWriteDeadline(deadline)
}
