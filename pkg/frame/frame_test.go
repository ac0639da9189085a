package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{
		NonceSalt: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		Type:      TypeData,
		Flags:     FlagEndOfStream,
		StreamID:  16,
		Sequence:  42,
		Offset:    1 << 20,
		Payload:   []byte("hello wraith"),
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	n, err := Encode(&f, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	got, err := Decode(buf, 0)
	require.NoError(t, err)
	require.Equal(t, f.NonceSalt, got.NonceSalt)
	require.Equal(t, f.Type, got.Type)
	require.Equal(t, f.Flags, got.Flags)
	require.Equal(t, f.StreamID, got.StreamID)
	require.Equal(t, f.Sequence, got.Sequence)
	require.Equal(t, f.Offset, got.Offset)
	require.Equal(t, f.Payload, got.Payload)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[8] = 255
	_, err := Decode(buf, 0)
	require.True(t, wraitherr.Is(err, wraitherr.FrameMalformed))
}

func TestDecodeRejectsReservedFlags(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[8] = byte(TypePing)
	buf[9] = 0xFE
	_, err := Decode(buf, 0)
	require.True(t, wraitherr.Is(err, wraitherr.FrameMalformed))
}

func TestEncodeRejectsReservedStreamIDForDataFrame(t *testing.T) {
	f := Frame{Type: TypeData, StreamID: 5}
	buf := make([]byte, HeaderSize)
	_, err := Encode(&f, buf)
	require.True(t, wraitherr.Is(err, wraitherr.FrameMalformed))
}

func TestDecodeRejectsPayloadTooLarge(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[8] = byte(TypeData)
	buf[24] = 0xFF
	buf[25] = 0xFF // payload length 65535 > max
	_, err := Decode(buf, 0)
	require.True(t, wraitherr.Is(err, wraitherr.FrameMalformed))
}

func TestZeroPayloadLengthAccepted(t *testing.T) {
	f := Frame{Type: TypePing, StreamID: 0}
	buf := make([]byte, HeaderSize)
	n, err := Encode(&f, buf)
	require.NoError(t, err)
	got, err := Decode(buf[:n], 0)
	require.NoError(t, err)
	require.Empty(t, got.Payload)
}

func TestPayloadLengthAtMaxAccepted(t *testing.T) {
	f := Frame{Type: TypeData, StreamID: 16, Payload: make([]byte, MaxPayloadLen)}
	buf := make([]byte, HeaderSize+MaxPayloadLen)
	n, err := Encode(&f, buf)
	require.NoError(t, err)
	_, err = Decode(buf[:n], 0)
	require.NoError(t, err)
}

func TestPayloadLengthOverMaxRejected(t *testing.T) {
	f := Frame{Type: TypeData, StreamID: 16, Payload: make([]byte, MaxPayloadLen+1)}
	buf := make([]byte, HeaderSize+MaxPayloadLen+1)
	_, err := Encode(&f, buf)
	require.True(t, wraitherr.Is(err, wraitherr.FrameMalformed))
}

func TestFileOffsetBoundary(t *testing.T) {
	f := Frame{Type: TypeData, StreamID: 16, Offset: MaxFileOffset}
	buf := make([]byte, HeaderSize)
	n, err := Encode(&f, buf)
	require.NoError(t, err)
	got, err := Decode(buf[:n], 0)
	require.NoError(t, err)
	require.Equal(t, uint64(MaxFileOffset), got.Offset)

	f2 := Frame{Type: TypeData, StreamID: 16, Offset: MaxFileOffset + 1}
	_, err = Encode(&f2, buf)
	require.True(t, wraitherr.Is(err, wraitherr.FrameMalformed))
}

func TestSequenceDeltaRejected(t *testing.T) {
	f := Frame{Type: TypeData, StreamID: 16, Sequence: MaxSequenceDelta + 5}
	buf := make([]byte, HeaderSize)
	n, err := Encode(&f, buf)
	require.NoError(t, err)
	_, err = Decode(buf[:n], 1)
	require.True(t, wraitherr.Is(err, wraitherr.FrameMalformed))
}
