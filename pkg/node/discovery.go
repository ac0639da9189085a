package node

import (
	"net"
	"sync"

	"github.com/wraith-network/wraith/pkg/identity"
)

// Discovery is the consumed peer-resolution interface from §6: given a
// peer's NodeID, return candidate addresses to dial, and publish this
// node's own reachability so others can find it.
type Discovery interface {
	Resolve(peer identity.NodeID) ([]net.Addr, error)
	Announce(peer identity.NodeID, local net.Addr) error
}

// StaticDiscovery is an in-memory Discovery backed by a manually populated
// address table, used for tests and small fixed-topology deployments that
// don't run a separate rendezvous service.
type StaticDiscovery struct {
	mu    sync.Mutex
	table map[identity.NodeID][]net.Addr
}

func NewStaticDiscovery() *StaticDiscovery {
	return &StaticDiscovery{table: make(map[identity.NodeID][]net.Addr)}
}

func (d *StaticDiscovery) Resolve(peer identity.NodeID) ([]net.Addr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]net.Addr(nil), d.table[peer]...), nil
}

func (d *StaticDiscovery) Announce(peer identity.NodeID, local net.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table[peer] = append(d.table[peer], local)
	return nil
}
