package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTLSRecordWrapperRoundTrip(t *testing.T) {
	var w TLSRecordWrapper
	packet := []byte("sealed wraith packet bytes")
	wrapped, err := w.Wrap(packet)
	require.NoError(t, err)
	got, err := w.Unwrap(wrapped)
	require.NoError(t, err)
	require.Equal(t, packet, got)
}

func TestDoHWrapperRoundTrip(t *testing.T) {
	var w DoHWrapper
	packet := []byte("sealed wraith packet bytes")
	wrapped, err := w.Wrap(packet)
	require.NoError(t, err)
	got, err := w.Unwrap(wrapped)
	require.NoError(t, err)
	require.Equal(t, packet, got)
}

func TestIdentityWrapperNoOp(t *testing.T) {
	var w Identity
	packet := []byte("raw")
	wrapped, _ := w.Wrap(packet)
	require.Equal(t, packet, wrapped)
}
