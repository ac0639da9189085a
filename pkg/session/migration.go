package session

import (
	"crypto/rand"
	"net"
	"time"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// AmplificationFactor bounds how many bytes a connection may send to an
// unvalidated path before a PATH_RESPONSE confirms it, per §4.5's
// anti-amplification requirement for migration targets.
const AmplificationFactor = 3

// ChallengeSize is the length, in bytes, of a PATH_CHALLENGE/PATH_RESPONSE
// token.
const ChallengeSize = 16

// pathState tracks one candidate remote address's validation progress
// during a migration attempt.
type pathState struct {
	addr        net.Addr
	challenge   [ChallengeSize]byte
	sentAt      time.Time
	validated   bool
	bytesToPath uint64
}

// Migration tracks validation of candidate network paths: BeginProbe issues
// a PATH_CHALLENGE token, OnPathResponse validates the echoed token, and
// AllowedAmplification/RecordSent account bytes sent to a path that is not
// yet validated. Connection does not call AllowedAmplification or
// RecordSent, so traffic to a candidate path is not rate-limited. Migration
// does not touch congestion state; Connection resets it (BtlBw survives,
// RTprop does not) when it moves to a validated path.
type Migration struct {
	active map[string]*pathState
}

func NewMigration() *Migration {
	return &Migration{active: make(map[string]*pathState)}
}

// BeginProbe starts validating addr, returning the PATH_CHALLENGE token to
// send to it.
func (m *Migration) BeginProbe(addr net.Addr) ([ChallengeSize]byte, error) {
	var token [ChallengeSize]byte
	if _, err := rand.Read(token[:]); err != nil {
		return token, wraitherr.Wrap(wraitherr.PeerUnreachable, "generate path challenge", err)
	}
	m.active[addr.String()] = &pathState{addr: addr, challenge: token, sentAt: time.Now()}
	return token, nil
}

// AllowedAmplification reports how many bytes may still be sent to an
// unvalidated addr before it must be throttled, scaled by the bytes
// already received from that path.
func (m *Migration) AllowedAmplification(addr net.Addr, bytesReceivedFromPath uint64) uint64 {
	ps, ok := m.active[addr.String()]
	if !ok || ps.validated {
		return ^uint64(0) // no limit once validated or unknown (caller tracks separately)
	}
	limit := bytesReceivedFromPath * AmplificationFactor
	if limit < ps.bytesToPath {
		return 0
	}
	return limit - ps.bytesToPath
}

// RecordSent tallies bytes sent to an unvalidated candidate path.
func (m *Migration) RecordSent(addr net.Addr, n uint64) {
	if ps, ok := m.active[addr.String()]; ok && !ps.validated {
		ps.bytesToPath += n
	}
}

// OnPathResponse validates a candidate path if token matches the
// outstanding challenge sent to addr, returning true on a fresh validation.
func (m *Migration) OnPathResponse(addr net.Addr, token [ChallengeSize]byte) bool {
	ps, ok := m.active[addr.String()]
	if !ok || ps.validated {
		return false
	}
	if ps.challenge != token {
		return false
	}
	ps.validated = true
	return true
}

// Validated reports whether addr has completed path validation.
func (m *Migration) Validated(addr net.Addr) bool {
	ps, ok := m.active[addr.String()]
	return ok && ps.validated
}
