package handshake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wraith-network/wraith/pkg/identity"
)

// pipeConn is an in-memory MessageConn backed by a channel, used to join
// an initiator and responder running in separate goroutines within a test.
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
	cp := append([]byte(nil), b...)
	p.out <- cp
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

var errTimeout = &timeoutErr{}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "pipeConn: timeout" }

func TestHandshakeEstablishesMatchingKeys(t *testing.T) {
	initID, err := identity.Generate()
	require.NoError(t, err)
	defer initID.Destroy()
	respID, err := identity.Generate()
	require.NoError(t, err)
	defer respID.Destroy()

	initConn, respConn := newPipePair()

	var wg sync.WaitGroup
	var initOut, respOut *Output
	var initErr, respErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		initOut, initErr = RunInitiator(initConn, initID)
	}()
	go func() {
		defer wg.Done()
		respOut, respErr = RunResponder(respConn, respID)
	}()
	wg.Wait()

	require.NoError(t, initErr)
	require.NoError(t, respErr)
	require.Equal(t, initOut.SendKey, respOut.RecvKey)
	require.Equal(t, initOut.RecvKey, respOut.SendKey)
	require.Equal(t, initOut.ConnectionID, respOut.ConnectionID)
	require.Equal(t, initOut.ChainKey, respOut.ChainKey)
	require.Equal(t, respID.ID, initOut.PeerNodeID)
	require.Equal(t, initID.ID, respOut.PeerNodeID)
}
