// Package frame implements the WRAITH inner frame header: a fixed 28-byte
// structure multiplexing stream data and control messages inside a sealed
// packet. Decode borrows the payload from the input slice rather than
// copying it, matching the zero-copy parsing style the covert-channel
// framing in the example corpus uses for its own fixed headers.
package frame

import (
	"encoding/binary"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// HeaderSize is the fixed, unpadded frame header length in bytes.
const HeaderSize = 28

// MaxPayloadLen is the largest payload, in bytes, a single frame may carry.
const MaxPayloadLen = 8944

// MaxFileOffset is the largest legal DATA frame file offset (2^48 - 1).
const MaxFileOffset = (1 << 48) - 1

// MaxSequenceDelta bounds how far a frame's sequence number may jump ahead
// of the last one seen on its stream before it is rejected as malformed.
const MaxSequenceDelta = 1_000_000

// Type is the frame type tag occupying header byte 8.
type Type uint8

const (
	TypeData Type = iota
	TypeAck
	TypeControl
	TypeRekey
	TypePing
	TypePong
	TypeClose
	TypePad
	TypeStreamOpen
	TypeStreamClose
	TypeStreamReset
	TypePathChallenge
	TypePathResponse
	TypeMaxData
	TypeMaxStreamData
	typeCount // sentinel; not a valid wire type
)

func (t Type) Valid() bool {
	return t < typeCount
}

func (t Type) String() string {
	names := [...]string{
		"DATA", "ACK", "CONTROL", "REKEY", "PING", "PONG", "CLOSE", "PAD",
		"STREAM_OPEN", "STREAM_CLOSE", "STREAM_RESET", "PATH_CHALLENGE",
		"PATH_RESPONSE", "MAX_DATA", "MAX_STREAM_DATA",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "UNKNOWN"
}

// Flags carries per-frame bits. All bits beyond FlagMask are reserved and
// must be zero.
type Flags uint8

const (
	FlagNone Flags = 0
	// FlagEndOfStream marks the final frame of a stream's send direction.
	FlagEndOfStream Flags = 1 << 0
	// FlagRekeyReply marks a REKEY frame as the reply half of a DH ratchet
	// exchange rather than the initiating half, so a receiver can tell the
	// two apart without a second frame type (§4.4).
	FlagRekeyReply Flags = 1 << 1
	// FlagMask is the set of bits a conforming sender may set.
	FlagMask = FlagEndOfStream | FlagRekeyReply
)

// MinControlStreamID is the first reserved (control) stream id; ids below
// it are reserved and may not be used for application STREAM_OPEN.
const MinControlStreamID = 1

// MaxControlStreamID is the last reserved control stream id (inclusive).
const MaxControlStreamID = 15

// Frame is a parsed view over a frame header plus a borrowed payload slice.
type Frame struct {
	NonceSalt [8]byte
	Type      Type
	Flags     Flags
	StreamID  uint16
	Sequence  uint32
	Offset    uint64
	Payload   []byte
}

// IsControlStream reports whether id falls in the reserved control range.
func IsControlStream(id uint16) bool {
	return id >= MinControlStreamID && id <= MaxControlStreamID
}

// IsStreamScoped reports whether frames of type t carry an application
// stream id, and therefore must not use the reserved 1-15 range.
func IsStreamScoped(t Type) bool {
	switch t {
	case TypeData, TypeAck, TypeStreamOpen, TypeStreamClose, TypeStreamReset, TypeMaxStreamData:
		return true
	default:
		return false
	}
}

// Encode serializes f's header and payload into out, which must have
// capacity for HeaderSize+len(f.Payload) bytes, and returns the number of
// bytes written. Padding, if any, is appended by the caller after Encode
// returns and before AEAD sealing; Encode never pads.
func Encode(f *Frame, out []byte) (int, error) {
	if len(f.Payload) > MaxPayloadLen {
		return 0, wraitherr.New(wraitherr.FrameMalformed, "payload exceeds max length")
	}
	if f.Offset > MaxFileOffset {
		return 0, wraitherr.New(wraitherr.FrameMalformed, "file offset exceeds 2^48-1")
	}
	if !f.Type.Valid() {
		return 0, wraitherr.New(wraitherr.FrameMalformed, "unknown frame type")
	}
	if f.Flags&^FlagMask != 0 {
		return 0, wraitherr.New(wraitherr.FrameMalformed, "reserved flag bits set")
	}
	if IsStreamScoped(f.Type) && IsControlStream(f.StreamID) {
		return 0, wraitherr.New(wraitherr.FrameMalformed, "reserved stream id used by stream-scoped frame")
	}
	need := HeaderSize + len(f.Payload)
	if len(out) < need {
		return 0, wraitherr.New(wraitherr.FrameMalformed, "output buffer too small")
	}

	copy(out[0:8], f.NonceSalt[:])
	out[8] = byte(f.Type)
	out[9] = byte(f.Flags)
	binary.BigEndian.PutUint16(out[10:12], f.StreamID)
	binary.BigEndian.PutUint32(out[12:16], f.Sequence)
	putUint48(out[16:24], f.Offset)
	binary.BigEndian.PutUint16(out[24:26], uint16(len(f.Payload)))
	out[26] = 0
	out[27] = 0
	copy(out[HeaderSize:need], f.Payload)
	return need, nil
}

// Decode parses a frame header from b and returns a Frame whose Payload
// aliases b — no copy is made. lastSequence is the last sequence number
// observed on this frame's stream (0 if none yet), used to bound the
// accepted sequence delta.
func Decode(b []byte, lastSequence uint32) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, wraitherr.New(wraitherr.FrameMalformed, "short header")
	}
	typ := Type(b[8])
	if !typ.Valid() {
		return Frame{}, wraitherr.New(wraitherr.FrameMalformed, "unknown frame type")
	}
	flags := Flags(b[9])
	if flags&^FlagMask != 0 {
		return Frame{}, wraitherr.New(wraitherr.FrameMalformed, "reserved flag bits set")
	}
	streamID := binary.BigEndian.Uint16(b[10:12])
	if IsStreamScoped(typ) && IsControlStream(streamID) {
		return Frame{}, wraitherr.New(wraitherr.FrameMalformed, "reserved stream id used by stream-scoped frame")
	}
	seq := binary.BigEndian.Uint32(b[12:16])
	if lastSequence != 0 {
		delta := int64(seq) - int64(lastSequence)
		if delta < 0 {
			delta = -delta
		}
		if delta > MaxSequenceDelta {
			return Frame{}, wraitherr.New(wraitherr.FrameMalformed, "sequence delta too large")
		}
	}
	offset := getUint48(b[16:24])
	if offset > MaxFileOffset {
		return Frame{}, wraitherr.New(wraitherr.FrameMalformed, "file offset exceeds 2^48-1")
	}
	payloadLen := binary.BigEndian.Uint16(b[24:26])
	if int(payloadLen) > MaxPayloadLen {
		return Frame{}, wraitherr.New(wraitherr.FrameMalformed, "payload length exceeds max")
	}
	end := HeaderSize + int(payloadLen)
	if end > len(b) {
		return Frame{}, wraitherr.New(wraitherr.FrameMalformed, "payload length exceeds remaining bytes")
	}

	var f Frame
	copy(f.NonceSalt[:], b[0:8])
	f.Type = typ
	f.Flags = flags
	f.StreamID = streamID
	f.Sequence = seq
	f.Offset = offset
	f.Payload = b[HeaderSize:end]
	return f, nil
}

func putUint48(b []byte, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	copy(b, tmp[2:8])
}

func getUint48(b []byte) uint64 {
	var tmp [8]byte
	copy(tmp[2:8], b[:6])
	return binary.BigEndian.Uint64(tmp[:])
}
