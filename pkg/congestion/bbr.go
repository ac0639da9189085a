// Package congestion implements the BBR-style controller from §4.5:
// bottleneck-bandwidth and round-trip-propagation-time estimation driving
// a pacing-gain state machine whose pacing rate the session's
// departure-time pacer consumes. Grounded on
// the teacher's client2/arq.go timer-queue loss/latency tracking,
// generalized from a simple ARQ retransmit timer into a full BBR model
// since the teacher has no congestion controller of its own.
package congestion

import (
	"time"
)

// State is one of BBR's four pacing-gain regimes.
type State uint8

const (
	StateStartup State = iota
	StateDrain
	StateProbeBW
	StateProbeRTT
)

func (s State) String() string {
	switch s {
	case StateStartup:
		return "Startup"
	case StateDrain:
		return "Drain"
	case StateProbeBW:
		return "ProbeBW"
	case StateProbeRTT:
		return "ProbeRTT"
	default:
		return "Unknown"
	}
}

// startupGain is 2/ln(2), BBR's canonical Startup pacing gain.
const startupGain = 2.0 / 0.6931471805599453

var probeBWGainCycle = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

const (
	btlBwWindow    = 10 // RTT samples
	rtPropWindow   = 10 * time.Second
	probeRTTPeriod = 10 * time.Second
	probeRTTDur    = 200 * time.Millisecond
	probeRTTCwnd   = 4 // packets
)

// Controller tracks one connection's BBR state and exposes the current
// pacing rate and congestion window for the session's departure-time
// scheduler.
type Controller struct {
	state State

	btlBwSamples []float64 // bytes/sec, most recent btlBwWindow RTTs
	rtPropMin    time.Duration
	rtPropStamp  time.Time

	cycleIndex    int
	cycleStart    time.Time
	lastProbeRTT  time.Time
	probeRTTStart time.Time
	inProbeRTT    bool

	prevBtlBw float64

	mtu int
}

// New constructs a Controller starting in Startup, assuming no prior
// bandwidth or RTT samples.
func New(mtu int) *Controller {
	now := time.Now()
	return &Controller{
		state:        StateStartup,
		rtPropMin:    time.Hour, // sentinel until first sample
		rtPropStamp:  now,
		cycleStart:   now,
		lastProbeRTT: now,
		mtu:          mtu,
	}
}

// OnACK records a delivery sample: deliveredBytes were acknowledged after
// rtt since they were sent. The controller updates BtlBw/RTprop and may
// transition state.
func (c *Controller) OnACK(deliveredBytes int, rtt time.Duration, now time.Time) {
	if rtt <= 0 {
		return
	}
	rate := float64(deliveredBytes) / rtt.Seconds()
	c.btlBwSamples = append(c.btlBwSamples, rate)
	if len(c.btlBwSamples) > btlBwWindow {
		c.btlBwSamples = c.btlBwSamples[len(c.btlBwSamples)-btlBwWindow:]
	}

	if rtt < c.rtPropMin || now.Sub(c.rtPropStamp) > rtPropWindow {
		c.rtPropMin = rtt
		c.rtPropStamp = now
	}

	c.advance(now)
}

// BtlBw returns the current bottleneck bandwidth estimate in bytes/sec:
// the maximum delivery rate observed over the trailing window.
func (c *Controller) BtlBw() float64 {
	max := 0.0
	for _, s := range c.btlBwSamples {
		if s > max {
			max = s
		}
	}
	return max
}

// RTprop returns the current round-trip propagation time estimate.
func (c *Controller) RTprop() time.Duration {
	return c.rtPropMin
}

// PacingGain returns the multiplier currently applied to BtlBw to compute
// the departure-time pacer's target rate.
func (c *Controller) PacingGain() float64 {
	switch c.state {
	case StateStartup:
		return startupGain
	case StateDrain:
		return 1.0 / startupGain
	case StateProbeBW:
		return probeBWGainCycle[c.cycleIndex]
	case StateProbeRTT:
		return 1.0
	default:
		return 1.0
	}
}

// PacingRate returns the target send rate in bytes/sec: BtlBw * gain.
// Callers must never schedule departures faster than this.
func (c *Controller) PacingRate() float64 {
	return c.BtlBw() * c.PacingGain()
}

// CwndGain returns the multiplier applied to the bandwidth-delay product
// to compute the inflight cap, except during ProbeRTT where cwnd is fixed
// at probeRTTCwnd packets.
func (c *Controller) CwndGain() float64 {
	if c.state == StateProbeRTT {
		return 0
	}
	if c.state == StateStartup {
		return startupGain
	}
	return 2.0
}

// InflightLimit returns the maximum bytes allowed in flight right now.
func (c *Controller) InflightLimit() int {
	if c.state == StateProbeRTT {
		return probeRTTCwnd * c.mtu
	}
	bdp := c.BtlBw() * c.RTprop().Seconds()
	return int(bdp * c.CwndGain())
}

func (c *Controller) advance(now time.Time) {
	switch c.state {
	case StateStartup:
		bw := c.BtlBw()
		if c.prevBtlBw > 0 && bw < c.prevBtlBw*1.25 {
			c.state = StateDrain
		}
		c.prevBtlBw = bw
	case StateDrain:
		// Drain lasts for a single ACK: the controller does not track
		// bytes in flight, so it moves to ProbeBW on the next sample
		// without checking that inflight has fallen to the BDP.
		c.state = StateProbeBW
		c.cycleStart = now
		c.cycleIndex = 0
	case StateProbeBW:
		if now.Sub(c.cycleStart) >= c.RTprop() {
			c.cycleStart = now
			c.cycleIndex = (c.cycleIndex + 1) % len(probeBWGainCycle)
		}
		if now.Sub(c.lastProbeRTT) >= probeRTTPeriod {
			c.state = StateProbeRTT
			c.probeRTTStart = now
			c.inProbeRTT = true
		}
	case StateProbeRTT:
		if now.Sub(c.probeRTTStart) >= probeRTTDur {
			c.state = StateProbeBW
			c.lastProbeRTT = now
			c.inProbeRTT = false
			c.cycleStart = now
		}
	}
}

// State reports the controller's current BBR phase.
func (c *Controller) State() State {
	return c.state
}

// ResetForMigration implements the connection-migration congestion rule:
// the RTT estimate is discarded since it describes a path that may no
// longer apply, but the bandwidth estimate is kept (conservatively) since
// the bottleneck is often shared infrastructure rather than the path
// itself. The controller restarts its probe cycle from Startup.
func (c *Controller) ResetForMigration(now time.Time) {
	c.rtPropMin = time.Hour
	c.rtPropStamp = now
	c.state = StateStartup
	c.prevBtlBw = 0
	c.cycleStart = now
	c.cycleIndex = 0
}
