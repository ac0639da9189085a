package node

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wraith-network/wraith/pkg/config"
	"github.com/wraith-network/wraith/pkg/identity"
	"github.com/wraith-network/wraith/pkg/transfer"
	"github.com/wraith-network/wraith/pkg/transport"
)

// pairNodes builds two Nodes sharing one in-memory network and a
// StaticDiscovery table, started and announced to each other, ready for
// EstablishSession/AcceptSession.
func pairNodes(t *testing.T) (a, b *Node, idA, idB *identity.Identity) {
	t.Helper()
	var err error
	idA, err = identity.Generate()
	require.NoError(t, err)
	idB, err = identity.Generate()
	require.NoError(t, err)

	net := transport.NewMemoryNetwork()
	trA := net.NewEndpoint("a")
	trB := net.NewEndpoint("b")

	disc := NewStaticDiscovery()
	cfg := config.Default()

	a = New(cfg, idA, trA, disc, nil, nil)
	b = New(cfg, idB, trB, disc, nil, nil)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	return a, b, idA, idB
}

func TestNodeEstablishSessionAndStreamRoundTrip(t *testing.T) {
	a, b, idA, idB := pairNodes(t)
	defer idA.Destroy()
	defer idB.Destroy()
	defer a.Stop()
	defer b.Stop()

	var (
		respHandle *SessionHandle
		respErr    error
		wg         sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		respHandle, respErr = b.AcceptSession(a.tr.LocalAddr())
	}()
	// Give the responder time to register its pending handshake inbox
	// before the initiator's first message arrives.
	time.Sleep(20 * time.Millisecond)

	initHandle, err := a.EstablishSession(idB.ID)
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, respErr)
	require.Equal(t, idA.ID, respHandle.peer)
	require.Equal(t, idB.ID, initHandle.peer)

	stream, err := initHandle.OpenStream(0)
	require.NoError(t, err)

	payload := []byte("hello wraith")
	n, err := stream.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	// Drive the responder's stream dispatch: the peer-opened stream is
	// created lazily on first inbound frame, inside SessionHandle.dispatch,
	// which runs on respHandle.conn's reader goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		respHandle.mu.Lock()
		sh, ok := respHandle.streams[stream.stream.ID]
		respHandle.mu.Unlock()
		if ok {
			buf := make([]byte, len(payload))
			readN, readErr := sh.Read(buf)
			require.NoError(t, readErr)
			require.Equal(t, payload, buf[:readN])
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("peer stream never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNodeEstablishSessionUnknownPeerFails(t *testing.T) {
	idA, err := identity.Generate()
	require.NoError(t, err)
	defer idA.Destroy()
	idB, err := identity.Generate()
	require.NoError(t, err)
	defer idB.Destroy()

	net := transport.NewMemoryNetwork()
	trA := net.NewEndpoint("solo-a")
	disc := NewStaticDiscovery()
	a := New(config.Default(), idA, trA, disc, nil, nil)
	require.NoError(t, a.Start())
	defer a.Stop()

	_, err = a.EstablishSession(idB.ID)
	require.Error(t, err)
}

// establishSessionPair drives a to initiate against b, with b accepting
// concurrently, and returns both sides' handles once the session is up.
func establishSessionPair(t *testing.T, a, b *Node, idB *identity.Identity) (initHandle, respHandle *SessionHandle) {
	t.Helper()
	var (
		err2 error
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		respHandle, err2 = b.AcceptSession(a.tr.LocalAddr())
	}()
	time.Sleep(20 * time.Millisecond)

	var err error
	initHandle, err = a.EstablishSession(idB.ID)
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, err2)
	return initHandle, respHandle
}

func TestNodeSendFileReceiveFileRoundTrip(t *testing.T) {
	a, b, idA, idB := pairNodes(t)
	defer idA.Destroy()
	defer idB.Destroy()
	defer a.Stop()
	defer b.Stop()

	establishSessionPair(t, a, b, idB)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "payload.bin")
	content := make([]byte, 3*int(a.cfg.ChunkSize)+777)
	_, err := rand.Read(content)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(srcPath, content, 0o600))

	srcFile, err := os.Open(srcPath)
	require.NoError(t, err)
	manifest, _, err := transfer.BuildManifest(srcFile, uint64(len(content)), a.cfg.ChunkSize)
	require.NoError(t, err)
	srcFile.Close()

	dstPath := filepath.Join(dir, "received.bin")
	rh, err := b.ReceiveFile(manifest.TransferID, dstPath)
	require.NoError(t, err)

	sh, err := a.SendFile(idB.ID, srcPath)
	require.NoError(t, err)
	require.Equal(t, manifest.TransferID, sh.manifest.TransferID)

	select {
	case <-rh.done:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer never completed")
	}
	require.NoError(t, rh.err)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, content, got)
	require.Equal(t, uint64(len(content)), rh.Progress().BytesTransferred)
}
