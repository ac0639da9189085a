// Package transport provides the unreliable best-effort datagram channel
// WRAITH's core is built on (§6): a small send/recv interface, a UDP
// implementation, and an in-memory implementation for tests. Shaped after
// the teacher's sockatz/common QUICProxyConn adapter (buffered
// incoming/outgoing channels, deadline-respecting ReadFrom/WriteTo), here
// targeting a plain net.PacketConn instead of a QUIC stream.
package transport

import (
	"net"
	"time"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// Datagram pairs a received payload with the address it arrived from.
type Datagram struct {
	Addr    net.Addr
	Payload []byte
}

// Transport is the interface the session layer consumes. It neither
// orders nor deduplicates; callers treat every Recv as independent.
type Transport interface {
	Send(addr net.Addr, b []byte) error
	Recv() (Datagram, error)
	LocalAddr() net.Addr
	Close() error
}

// ResolveAddr parses a UDP address string, wrapping failures as
// PeerUnreachable per the error-kind taxonomy.
func ResolveAddr(network, address string) (net.Addr, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "resolve "+address, err)
	}
	return addr, nil
}

// deadlineFor returns a zero time (no deadline) when d <= 0.
func deadlineFor(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
