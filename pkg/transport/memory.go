package transport

import (
	"net"
	"sync"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// memAddr is an in-memory transport's notion of an address: an endpoint
// name registered in a shared MemoryNetwork.
type memAddr string

func (a memAddr) Network() string { return "memory" }
func (a memAddr) String() string  { return string(a) }

// MemoryNetwork is a registry of endpoints sharing one in-process fabric,
// used by loopback-handshake and multi-peer transfer tests so they don't
// depend on a real socket or the host's loopback stack.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[memAddr]*MemoryTransport
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[memAddr]*MemoryTransport)}
}

// MemoryTransport is an in-memory Transport implementation: a 256-slot
// buffered channel of inbound datagrams per endpoint (Send blocks while the
// destination's inbox is full, until the destination closes), with no real
// ordering or deduplication guarantees beyond "FIFO within this test process".
type MemoryTransport struct {
	net    *MemoryNetwork
	addr   memAddr
	inbox  chan Datagram
	closed chan struct{}
	once   sync.Once
}

// NewEndpoint registers a new named endpoint on net.
func (n *MemoryNetwork) NewEndpoint(name string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &MemoryTransport{
		net:    n,
		addr:   memAddr(name),
		inbox:  make(chan Datagram, 256),
		closed: make(chan struct{}),
	}
	n.endpoints[t.addr] = t
	return t
}

func (t *MemoryTransport) Send(addr net.Addr, b []byte) error {
	ma, ok := addr.(memAddr)
	if !ok {
		return wraitherr.New(wraitherr.PeerUnreachable, "address is not a memory address")
	}
	t.net.mu.Lock()
	dst, ok := t.net.endpoints[ma]
	t.net.mu.Unlock()
	if !ok {
		return wraitherr.New(wraitherr.PeerUnreachable, "no such endpoint: "+string(ma))
	}
	cp := append([]byte(nil), b...)
	select {
	case dst.inbox <- Datagram{Addr: t.addr, Payload: cp}:
		return nil
	case <-dst.closed:
		return wraitherr.New(wraitherr.PeerUnreachable, "endpoint closed: "+string(ma))
	}
}

func (t *MemoryTransport) Recv() (Datagram, error) {
	select {
	case d := <-t.inbox:
		return d, nil
	case <-t.closed:
		return Datagram{}, wraitherr.New(wraitherr.ConnectionClosed, "transport closed")
	}
}

func (t *MemoryTransport) LocalAddr() net.Addr {
	return t.addr
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
