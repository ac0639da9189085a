package transport

import (
	"net"

	"github.com/wraith-network/wraith/internal/bufpool"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// UDPTransport backs the Transport interface with a real kernel UDP
// socket. PMTU-sized buffers are drawn from the shared buffer pool
// (internal/bufpool) per §5's shared-resource policy.
type UDPTransport struct {
	conn *net.UDPConn
}

// ListenUDP opens a UDP socket on addr (host:port, or ":0" for ephemeral).
func ListenUDP(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "resolve listen addr", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "listen udp", err)
	}
	return &UDPTransport{conn: conn}, nil
}

func (t *UDPTransport) Send(addr net.Addr, b []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return wraitherr.New(wraitherr.PeerUnreachable, "address is not a udp address")
	}
	_, err := t.conn.WriteToUDP(b, udpAddr)
	if err != nil {
		return wraitherr.Wrap(wraitherr.PeerUnreachable, "write to "+addr.String(), err)
	}
	return nil
}

func (t *UDPTransport) Recv() (Datagram, error) {
	buf := bufpool.Get(bufpool.ClassLarge)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		bufpool.Put(buf)
		return Datagram{}, wraitherr.Wrap(wraitherr.PeerUnreachable, "read udp", err)
	}
	payload := append([]byte(nil), buf[:n]...)
	bufpool.Put(buf)
	return Datagram{Addr: addr, Payload: payload}, nil
}

func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
