package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryTransportSendRecv(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.NewEndpoint("a")
	b := net.NewEndpoint("b")

	require.NoError(t, a.Send(b.LocalAddr(), []byte("hello")))
	d, err := b.Recv()
	require.NoError(t, err)
	require.Equal(t, "hello", string(d.Payload))
	require.Equal(t, a.LocalAddr(), d.Addr)
}

func TestMemoryTransportUnknownEndpoint(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.NewEndpoint("a")
	err := a.Send(memAddr("nowhere"), []byte("x"))
	require.Error(t, err)
}

func TestMemoryTransportCloseUnblocksRecv(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.NewEndpoint("a")
	require.NoError(t, a.Close())
	_, err := a.Recv()
	require.Error(t, err)
}
