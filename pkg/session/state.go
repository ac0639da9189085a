// Package session implements the WRAITH connection state machine and
// stream multiplexer (C5), the largest component per spec: per-connection
// lifecycle, credit-based flow control, connection migration, and path MTU
// discovery. Structured after the teacher's client2/connection.go (typed
// errors, multi-channel select dispatch, retry/backoff, graceful teardown)
// and stream/stream.go (per-connection reader/writer loop pair, credit
// windowing, HKDF-derived per-stream keys), generalized from Katzenpost's
// mix-client provider connection to a direct peer-to-peer session.
package session

import "fmt"

// State is a connection's position in the lifecycle from §4.5.
type State uint8

const (
	StateInitial State = iota
	StateHandshaking
	StateEstablished
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateHandshaking:
		return "Handshaking"
	case StateEstablished:
		return "Established"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// transitionErr reports an illegal state transition attempt.
type transitionErr struct {
	from, to State
}

func (e *transitionErr) Error() string {
	return fmt.Sprintf("session: illegal transition %s -> %s", e.from, e.to)
}

// legal encodes the explicit transition table from §4.5.
var legal = map[State]map[State]bool{
	StateInitial:      {StateHandshaking: true, StateClosed: true},
	StateHandshaking:  {StateEstablished: true, StateClosed: true},
	StateEstablished:  {StateDraining: true, StateClosed: true},
	StateDraining:     {StateClosed: true},
	StateClosed:       {},
}

// stateMachine guards State transitions against the table above.
type stateMachine struct {
	current State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateInitial}
}

func (m *stateMachine) transition(to State) error {
	if !legal[m.current][to] {
		return &transitionErr{from: m.current, to: to}
	}
	m.current = to
	return nil
}

func (m *stateMachine) State() State {
	return m.current
}
