package transfer

import (
	"sort"
	"sync"
	"time"
)

// ChunkStatus is one chunk's position in the multi-source download pipeline.
type ChunkStatus uint8

const (
	ChunkNotRequested ChunkStatus = iota
	ChunkInFlight
	ChunkCompleted
)

// Strategy selects which peer a NotRequested chunk is assigned to next.
type Strategy uint8

const (
	StrategyRoundRobin Strategy = iota
	StrategyFastestFirst
	StrategyLoadBalanced
	StrategyAdaptive
)

// PeerID identifies a transfer source; callers supply their own stable
// identifier (e.g. the peer's NodeID string form).
type PeerID string

// PeerScore is one peer's EWMA-smoothed performance estimate (§4.7):
// score = bytes/sec*0.4 + (100 - latency_ms/10)*0.3 + (1-error_rate)*100*0.3.
type PeerScore struct {
	Score       float64
	BytesPerSec float64
	LatencyMS   float64
	ErrorRate   float64
	peakScore   float64 // high-water mark, for Adaptive's degradation check
	lastUpdate  time.Time
}

const ewmaAlpha = 0.3

func computeScore(bytesPerSec, latencyMS, errorRate float64) float64 {
	latencyTerm := 100 - latencyMS/10
	if latencyTerm < 0 {
		latencyTerm = 0
	}
	errorTerm := (1 - errorRate) * 100
	if errorTerm < 0 {
		errorTerm = 0
	}
	return bytesPerSec*0.4 + latencyTerm*0.3 + errorTerm*0.3
}

// chunkState tracks one chunk's assignment.
type chunkState struct {
	status ChunkStatus
	peer   PeerID
}

// DefaultAdaptiveDegradationPct is the default percentage drop from a
// peer's peak score that triggers StrategyAdaptive to stop favoring it and
// rebalance. config.Config.AdaptiveDegradationPct overrides it, and
// NewCoordinator falls back to it for a non-positive value (see DESIGN.md).
const DefaultAdaptiveDegradationPct = 20

// Coordinator assigns chunks of one transfer across multiple peers,
// tracking per-chunk state and per-peer performance.
type Coordinator struct {
	mu sync.Mutex

	manifest Manifest
	chunks   []chunkState
	peers    map[PeerID]*PeerScore
	order    []PeerID // stable round-robin cursor order

	strategy               Strategy
	adaptiveDegradationPct float64
	rrCursor               int
}

// NewCoordinator constructs a coordinator for manifest with all chunks
// initially NotRequested.
func NewCoordinator(m Manifest, strategy Strategy, adaptiveDegradationPct float64) *Coordinator {
	if adaptiveDegradationPct <= 0 {
		adaptiveDegradationPct = DefaultAdaptiveDegradationPct
	}
	return &Coordinator{
		manifest:               m,
		chunks:                 make([]chunkState, m.ChunkCount),
		peers:                  make(map[PeerID]*PeerScore),
		strategy:               strategy,
		adaptiveDegradationPct: adaptiveDegradationPct,
	}
}

// AddPeer registers a candidate source with a neutral initial score.
func (c *Coordinator) AddPeer(p PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[p]; ok {
		return
	}
	c.peers[p] = &PeerScore{Score: 50, lastUpdate: time.Now()}
	c.order = append(c.order, p)
}

// Observe folds a new (bytes/sec, latency, error) sample into peer p's EWMA
// score.
func (c *Coordinator) Observe(p PeerID, bytesPerSec, latencyMS, errorRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.peers[p]
	if !ok {
		return
	}
	sample := computeScore(bytesPerSec, latencyMS, errorRate)
	ps.Score = ewmaAlpha*sample + (1-ewmaAlpha)*ps.Score
	ps.BytesPerSec, ps.LatencyMS, ps.ErrorRate = bytesPerSec, latencyMS, errorRate
	ps.lastUpdate = time.Now()
	if ps.Score > ps.peakScore {
		ps.peakScore = ps.Score
	}
}

// NextAssignment returns the next NotRequested chunk and the peer it
// should be requested from, or ok=false if no chunk is currently
// assignable (either all done/in-flight, or there are no peers).
func (c *Coordinator) NextAssignment() (index uint32, peer PeerID, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return 0, "", false
	}
	idx, found := c.nextNotRequestedLocked()
	if !found {
		return 0, "", false
	}
	p := c.pickPeerLocked()
	c.chunks[idx].status = ChunkInFlight
	c.chunks[idx].peer = p
	return idx, p, true
}

func (c *Coordinator) nextNotRequestedLocked() (uint32, bool) {
	for i := range c.chunks {
		if c.chunks[i].status == ChunkNotRequested {
			return uint32(i), true
		}
	}
	return 0, false
}

func (c *Coordinator) pickPeerLocked() PeerID {
	switch c.strategy {
	case StrategyFastestFirst:
		return c.fastestLocked()
	case StrategyLoadBalanced:
		return c.loadBalancedLocked()
	case StrategyAdaptive:
		return c.adaptiveLocked()
	default:
		p := c.order[c.rrCursor%len(c.order)]
		c.rrCursor++
		return p
	}
}

func (c *Coordinator) fastestLocked() PeerID {
	best := c.order[0]
	bestScore := c.peers[best].Score
	for _, p := range c.order[1:] {
		if c.peers[p].Score > bestScore {
			best, bestScore = p, c.peers[p].Score
		}
	}
	return best
}

// loadBalancedLocked distributes assignments proportional to score using
// weighted round-robin: each peer's share of a deterministic rrCursor
// sweep is proportional to its score among registered peers.
func (c *Coordinator) loadBalancedLocked() PeerID {
	total := 0.0
	for _, p := range c.order {
		total += c.peers[p].Score
	}
	if total <= 0 {
		return c.order[c.rrCursor%len(c.order)]
	}
	type weighted struct {
		p PeerID
		w float64
	}
	ws := make([]weighted, len(c.order))
	for i, p := range c.order {
		ws[i] = weighted{p, c.peers[p].Score / total}
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].w > ws[j].w })
	target := float64(c.rrCursor%1000) / 1000.0
	c.rrCursor++
	cum := 0.0
	for _, w := range ws {
		cum += w.w
		if target <= cum {
			return w.p
		}
	}
	return ws[0].p
}

// adaptiveLocked behaves as FastestFirst until the chosen peer's score has
// degraded by adaptiveDegradationPct percent from its peak, at which point
// it falls back to load-balanced distribution across all peers (§4.7).
func (c *Coordinator) adaptiveLocked() PeerID {
	best := c.fastestLocked()
	ps := c.peers[best]
	if ps.peakScore > 0 {
		dropPct := (ps.peakScore - ps.Score) / ps.peakScore * 100
		if dropPct >= c.adaptiveDegradationPct {
			return c.loadBalancedLocked()
		}
	}
	return best
}

// MarkCompleted records that index verified successfully.
func (c *Coordinator) MarkCompleted(index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[index].status = ChunkCompleted
}

// MarkFailed returns index to NotRequested, e.g. after a verification
// failure or peer timeout, so it can be reassigned.
func (c *Coordinator) MarkFailed(index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[index].status = ChunkNotRequested
	c.chunks[index].peer = ""
}

// OnPeerFailure releases every chunk currently in flight to peer p back to
// NotRequested, per §4.7's peer-failure handling.
func (c *Coordinator) OnPeerFailure(p PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.chunks {
		if c.chunks[i].status == ChunkInFlight && c.chunks[i].peer == p {
			c.chunks[i].status = ChunkNotRequested
			c.chunks[i].peer = ""
		}
	}
}

// Progress reports completed/total chunk counts.
func (c *Coordinator) Progress() (completed, total uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cs := range c.chunks {
		if cs.status == ChunkCompleted {
			completed++
		}
	}
	return completed, uint32(len(c.chunks))
}

// Done reports whether every chunk has completed.
func (c *Coordinator) Done() bool {
	completed, total := c.Progress()
	return completed == total
}
