package session

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

func TestStreamInOrderDelivery(t *testing.T) {
	s := NewStream(16, 1024)
	s.Open()
	out, err := s.ReceiveData(0, []byte("hello "))
	require.NoError(t, err)
	require.Equal(t, []byte("hello "), out)

	out, err = s.ReceiveData(6, []byte("world"))
	require.NoError(t, err)
	require.Equal(t, []byte("world"), out)
}

func TestStreamOutOfOrderReassembly(t *testing.T) {
	s := NewStream(16, 1024)
	s.Open()

	out, err := s.ReceiveData(6, []byte("world"))
	require.NoError(t, err)
	require.Nil(t, out)

	out, err = s.ReceiveData(0, []byte("hello "))
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), out)
}

func TestStreamDuplicateBytesIgnored(t *testing.T) {
	s := NewStream(16, 1024)
	s.Open()

	_, err := s.ReceiveData(0, []byte("hello"))
	require.NoError(t, err)

	out, err := s.ReceiveData(0, []byte("hello"))
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestStreamFlowControlViolationOnRecv(t *testing.T) {
	s := NewStream(16, 4)
	s.Open()
	_, err := s.ReceiveData(0, []byte("hello"))
	require.Error(t, err)
	require.True(t, wraitherr.Is(err, wraitherr.FlowControlViolation))
}

func TestStreamSendCreditExhaustion(t *testing.T) {
	s := NewStream(16, 10)
	s.Open()
	_, err := s.ReserveSend(10)
	require.NoError(t, err)
	_, err = s.ReserveSend(1)
	require.Error(t, err)
	require.True(t, wraitherr.Is(err, wraitherr.FlowControlViolation))
}

func TestStreamGrantSendCreditNeverDecreases(t *testing.T) {
	s := NewStream(16, 10)
	s.Open()
	_, _ = s.ReserveSend(10)
	s.GrantSendCredit(15)
	_, err := s.ReserveSend(5)
	require.NoError(t, err)
	// a stale, smaller grant must not roll credit backwards
	s.GrantSendCredit(12)
	_, err = s.ReserveSend(1)
	require.Error(t, err)
}

func TestStreamCreditUpdateHysteresis(t *testing.T) {
	s := NewStream(16, 100)
	s.Open()
	_, ok := s.ShouldSendCreditUpdate(10)
	require.False(t, ok, "below 50%% threshold should not trigger an update")

	limit, ok := s.ShouldSendCreditUpdate(50)
	require.True(t, ok)
	require.Greater(t, limit, uint64(0))
}

func TestStreamHalfCloseThenFullClose(t *testing.T) {
	s := NewStream(16, 100)
	s.Open()
	s.CloseSend()
	require.Equal(t, StreamHalfClosedSend, s.State())
	s.CloseRecv()
	require.Equal(t, StreamClosed, s.State())
}

func TestIsInitiatorStream(t *testing.T) {
	require.True(t, IsInitiatorStream(16))
	require.False(t, IsInitiatorStream(17))
}
