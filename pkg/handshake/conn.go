package handshake

import "time"

// MessageConn is the minimal framed-message interface the handshake state
// machine needs from a transport: send one message, receive the next one
// before a deadline. pkg/session adapts its datagram transport to this
// interface for the pending-handshake lifetime; tests use an in-memory
// implementation.
type MessageConn interface {
	Send(b []byte) error
	Recv(deadline time.Time) ([]byte, error)
}
