package session

import (
	"sort"
	"sync"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// StreamState is one of a stream's five lifecycle states (§3).
type StreamState uint8

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedSend
	StreamHalfClosedRecv
	StreamClosed
)

// MinApplicationStreamID is the first id an application stream may use;
// ids below it are reserved for control frames.
const MinApplicationStreamID = 16

// IsInitiatorStream reports whether id follows the initiator-opened
// (even) convention from §4.5.
func IsInitiatorStream(id uint16) bool {
	return id%2 == 0
}

// pendingChunk is an out-of-order DATA payload held until the bytes before
// it become contiguous.
type pendingChunk struct {
	offset  uint64
	payload []byte
}

// Stream is one multiplexed, independently ordered channel within a
// connection. Streams hold no reference to their connection at all;
// Connection looks streams up by id in its own table.
type Stream struct {
	mu sync.Mutex

	ID    uint16
	state StreamState

	sendOffset uint64
	sendCredit uint64 // remote-advertised window, bytes beyond sendOffset allowed

	recvOffset uint64 // contiguous bytes delivered to the application
	recvCredit uint64 // locally advertised window
	recvWindow uint64 // the configured window size, for hysteresis math
	pending    []pendingChunk

	recvUnadvertised uint64 // consumed bytes not yet covered by a credit update

	endOfStreamSent bool
	endOfStreamRecv bool

	readBuf []byte
	readCh  chan struct{}
}

// NewStream constructs a stream in the Idle state with the given initial
// send/receive credit.
func NewStream(id uint16, initialCredit uint64) *Stream {
	return &Stream{
		ID:         id,
		state:      StreamIdle,
		sendCredit: initialCredit,
		recvCredit: initialCredit,
		recvWindow: initialCredit,
		readCh:     make(chan struct{}, 1),
	}
}

// Open transitions Idle -> Open, as when STREAM_OPEN is sent or received.
func (s *Stream) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamIdle {
		s.state = StreamOpen
	}
}

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReserveSend claims n bytes of send credit for an outbound write,
// returning FlowControlViolation if insufficient credit remains.
func (s *Stream) ReserveSend(n int) (offset uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint64(n) > s.sendCredit {
		return 0, wraitherr.New(wraitherr.FlowControlViolation, "insufficient stream send credit")
	}
	offset = s.sendOffset
	s.sendOffset += uint64(n)
	s.sendCredit -= uint64(n)
	return offset, nil
}

// GrantSendCredit increments send credit on receipt of a MAX_STREAM_DATA
// update. newLimit is an absolute offset, matching the wire semantics of
// MAX_STREAM_DATA(stream_id, offset): never decreases credit.
func (s *Stream) GrantSendCredit(newLimit uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newLimit <= s.sendOffset {
		return
	}
	avail := newLimit - s.sendOffset
	if avail > s.sendCredit {
		s.sendCredit = avail
	}
}

// ReceiveData buffers an inbound DATA frame's payload at offset, and
// returns the newly contiguous bytes (if any) to deliver to the
// application. Bytes beyond the locally advertised receive window are
// rejected as a flow control violation.
func (s *Stream) ReceiveData(offset uint64, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := offset + uint64(len(payload))
	if end > s.recvOffset+s.recvCredit {
		return nil, wraitherr.New(wraitherr.FlowControlViolation, "peer exceeded advertised stream credit")
	}

	if offset == s.recvOffset {
		s.recvOffset += uint64(len(payload))
		delivered := append([]byte(nil), payload...)
		delivered = append(delivered, s.drainContiguous()...)
		return delivered, nil
	}
	if offset < s.recvOffset {
		// fully or partially duplicate bytes; trim to the new portion only
		if end <= s.recvOffset {
			return nil, nil
		}
		payload = payload[s.recvOffset-offset:]
		offset = s.recvOffset
	}
	s.pending = append(s.pending, pendingChunk{offset: offset, payload: append([]byte(nil), payload...)})
	sort.Slice(s.pending, func(i, j int) bool { return s.pending[i].offset < s.pending[j].offset })
	return nil, nil
}

func (s *Stream) drainContiguous() []byte {
	var out []byte
	for len(s.pending) > 0 && s.pending[0].offset <= s.recvOffset {
		c := s.pending[0]
		if c.offset+uint64(len(c.payload)) <= s.recvOffset {
			s.pending = s.pending[1:]
			continue
		}
		skip := s.recvOffset - c.offset
		piece := c.payload[skip:]
		out = append(out, piece...)
		s.recvOffset += uint64(len(piece))
		s.pending = s.pending[1:]
	}
	return out
}

// ShouldSendCreditUpdate reports whether the hysteresis threshold from
// §4.5 (free buffer >= 50% of window) has been crossed since the last
// advertised value, and if so the new absolute offset to advertise.
func (s *Stream) ShouldSendCreditUpdate(consumedBytes uint64) (newLimit uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvUnadvertised += consumedBytes
	freed := s.recvUnadvertised
	if freed*2 < s.recvWindow {
		return 0, false
	}
	s.recvUnadvertised = 0
	s.recvCredit += freed
	return s.recvOffset + s.recvCredit, true
}

// Reset aborts the stream with an application-defined reason code,
// transitioning it to Closed immediately.
func (s *Stream) Reset(reason uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StreamClosed
}

// CloseSend marks the local send direction ended; the stream fully closes
// once the remote direction also closes.
func (s *Stream) CloseSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endOfStreamSent = true
	s.advanceCloseLocked()
}

// CloseRecv marks the remote send direction ended.
func (s *Stream) CloseRecv() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endOfStreamRecv = true
	s.advanceCloseLocked()
}

func (s *Stream) advanceCloseLocked() {
	switch {
	case s.endOfStreamSent && s.endOfStreamRecv:
		s.state = StreamClosed
	case s.endOfStreamSent:
		s.state = StreamHalfClosedSend
	case s.endOfStreamRecv:
		s.state = StreamHalfClosedRecv
	}
}
