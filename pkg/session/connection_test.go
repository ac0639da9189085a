package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wraith-network/wraith/pkg/frame"
	"github.com/wraith-network/wraith/pkg/handshake"
	"github.com/wraith-network/wraith/pkg/identity"
	"github.com/wraith-network/wraith/pkg/transport"
)

type pipeConn struct {
	out chan []byte
	in  chan []byte
}

func newPipePair() (a, b *pipeConn) {
	c1 := make(chan []byte, 4)
	c2 := make(chan []byte, 4)
	return &pipeConn{out: c1, in: c2}, &pipeConn{out: c2, in: c1}
}

func (p *pipeConn) Send(b []byte) error {
	p.out <- append([]byte(nil), b...)
	return nil
}

func (p *pipeConn) Recv(deadline time.Time) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-time.After(time.Until(deadline)):
		return nil, errTimeout
	}
}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "pipeConn: timeout" }

var errTimeout = &timeoutErr{}

func runHandshake(t *testing.T) (initOut, respOut *handshake.Output, initID, respID *identity.Identity) {
	t.Helper()
	var err error
	initID, err = identity.Generate()
	require.NoError(t, err)
	respID, err = identity.Generate()
	require.NoError(t, err)

	initConn, respConn := newPipePair()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		initOut, err = handshake.RunInitiator(initConn, initID)
		require.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		respOut, err = handshake.RunResponder(respConn, respID)
		require.NoError(t, err)
	}()
	wg.Wait()
	return
}

func TestConnectionLoopbackDataFrame(t *testing.T) {
	initOut, respOut, initID, respID := runHandshake(t)
	defer initID.Destroy()
	defer respID.Destroy()

	net := transport.NewMemoryNetwork()
	initTr := net.NewEndpoint("initiator")
	respTr := net.NewEndpoint("responder")

	cfg := DefaultConfig()
	initConn := NewConnection(*initOut, true, initID.DHPrivate(), initTr, respTr.LocalAddr(), 0, cfg, nil, nil)
	respConn := NewConnection(*respOut, false, respID.DHPrivate(), respTr, initTr.LocalAddr(), 0, cfg, nil, nil)

	received := make(chan frame.Frame, 1)
	initConn.Start(func(f frame.Frame) {})
	respConn.Start(func(f frame.Frame) { received <- f })
	defer initConn.Close()
	defer respConn.Close()

	s, err := initConn.OpenStream(cfg)
	require.NoError(t, err)

	payload := []byte("hello wraith")
	offset, err := s.ReserveSend(len(payload))
	require.NoError(t, err)

	f := &frame.Frame{
		Type:     frame.TypeData,
		StreamID: s.ID,
		Sequence: 1,
		Offset:   offset,
		Payload:  payload,
	}
	require.NoError(t, initConn.Enqueue(f))

	select {
	case got := <-received:
		require.Equal(t, payload, got.Payload)
		require.Equal(t, s.ID, got.StreamID)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never arrived")
	}
}

func TestConnectionStateTransitionsOnClose(t *testing.T) {
	initOut, respOut, initID, respID := runHandshake(t)
	defer initID.Destroy()
	defer respID.Destroy()

	net := transport.NewMemoryNetwork()
	initTr := net.NewEndpoint("a")
	respTr := net.NewEndpoint("b")
	cfg := DefaultConfig()
	c := NewConnection(*initOut, true, initID.DHPrivate(), initTr, respTr.LocalAddr(), 0, cfg, nil, nil)
	_ = respOut

	require.Equal(t, StateEstablished, c.State())
	require.NoError(t, c.Drain())
	require.Equal(t, StateDraining, c.State())
	c.Start(func(f frame.Frame) {})
	require.NoError(t, c.Close())
	require.Equal(t, StateClosed, c.State())
}
