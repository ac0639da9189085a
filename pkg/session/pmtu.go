package session

import (
	"time"
)

// PMTU discovery bounds and cadence (§4.5): probing binary-searches
// between a safe floor and a ceiling no path is expected to exceed,
// refreshing periodically in case the path changes underfoot.
const (
	PMTUFloor           = 1200
	PMTUCeiling         = 9000
	PMTURefreshInterval = 10 * time.Minute
	pmtuConvergeDelta   = 16 // stop probing once hi-lo is within this many bytes
)

// PMTUDiscovery runs a binary search for the largest PAD-frame size that
// reaches the peer without fragmentation, probing packet sizes rather than
// using the host OS's path-MTU hints (the teacher's transports are all
// application-layer and don't expose ICMP feedback).
type PMTUDiscovery struct {
	lo, hi    int
	current   int
	probing   bool
	lastProbe time.Time
	lastRun   time.Time
}

// NewPMTUDiscovery starts a search bounded by [PMTUFloor, PMTUCeiling],
// with current conservatively seeded at the floor until the first probe
// round completes.
func NewPMTUDiscovery() *PMTUDiscovery {
	return &PMTUDiscovery{lo: PMTUFloor, hi: PMTUCeiling, current: PMTUFloor}
}

// Current returns the largest size confirmed to reach the peer so far.
func (p *PMTUDiscovery) Current() int {
	return p.current
}

// ShouldStartRound reports whether a new discovery round is due: either
// none has ever run, or PMTURefreshInterval has elapsed since the last one.
func (p *PMTUDiscovery) ShouldStartRound(now time.Time) bool {
	if p.lastRun.IsZero() {
		return true
	}
	return now.Sub(p.lastRun) >= PMTURefreshInterval
}

// StartRound resets the search bounds to begin a fresh binary search.
func (p *PMTUDiscovery) StartRound(now time.Time) {
	p.lo, p.hi = PMTUFloor, PMTUCeiling
	p.probing = true
	p.lastRun = now
}

// NextProbeSize returns the size of the next PAD frame to send, or 0, false
// once the search has converged.
func (p *PMTUDiscovery) NextProbeSize() (int, bool) {
	if !p.probing || p.hi-p.lo < pmtuConvergeDelta {
		p.probing = false
		return 0, false
	}
	return (p.lo + p.hi) / 2, true
}

// OnProbeResult records whether a probe of the given size was acknowledged
// by the peer, narrowing the search interval accordingly.
func (p *PMTUDiscovery) OnProbeResult(size int, acked bool) {
	if acked {
		p.lo = size
		if size > p.current {
			p.current = size
		}
	} else {
		p.hi = size
	}
	if p.hi-p.lo < pmtuConvergeDelta {
		p.probing = false
	}
}
