package session

import "sync"

// ConnFlowControl tracks connection-wide send/receive credit (MAX_DATA),
// mirroring Stream's per-stream accounting but scoped to the whole
// connection per §4.5.
type ConnFlowControl struct {
	mu sync.Mutex

	sendOffset uint64
	sendCredit uint64

	recvOffset       uint64
	recvCredit       uint64
	recvWindow       uint64
	recvUnadvertised uint64 // consumed bytes not yet covered by a MAX_DATA update
}

// NewConnFlowControl seeds connection-level credit from the configured
// initial flow-control window.
func NewConnFlowControl(initialCredit uint64) *ConnFlowControl {
	return &ConnFlowControl{
		sendCredit: initialCredit,
		recvCredit: initialCredit,
		recvWindow: initialCredit,
	}
}

// Reserve claims n bytes of connection-wide send credit, reporting
// whether enough credit was available.
func (c *ConnFlowControl) Reserve(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint64(n) > c.sendCredit {
		return false
	}
	c.sendOffset += uint64(n)
	c.sendCredit -= uint64(n)
	return true
}

// Grant raises send credit on receipt of a MAX_DATA update.
func (c *ConnFlowControl) Grant(newLimit uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if newLimit <= c.sendOffset {
		return
	}
	avail := newLimit - c.sendOffset
	if avail > c.sendCredit {
		c.sendCredit = avail
	}
}

// Consume records n bytes delivered to the application across all
// streams, and reports the new absolute MAX_DATA limit to advertise once
// the hysteresis threshold (freed >= 50% of window) is crossed.
func (c *ConnFlowControl) Consume(n uint64) (newLimit uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvOffset += n
	c.recvUnadvertised += n
	freed := c.recvUnadvertised
	if freed*2 < c.recvWindow {
		return 0, false
	}
	c.recvUnadvertised = 0
	c.recvCredit += freed
	return c.recvOffset + c.recvCredit, true
}

// WithinRecvWindow reports whether accepting n more connection-wide bytes
// stays within the locally advertised MAX_DATA limit.
func (c *ConnFlowControl) WithinRecvWindow(n uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvOffset+n <= c.recvOffset+c.recvCredit
}
