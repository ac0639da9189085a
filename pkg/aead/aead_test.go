package aead

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

func randKey(t *testing.T) [KeySize]byte {
	var k [KeySize]byte
	_, err := io.ReadFull(rand.Reader, k[:])
	require.NoError(t, err)
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	var connID [ConnIDSize]byte
	copy(connID[:], "connid01")
	key := randKey(t)
	var salt [16]byte
	_, _ = io.ReadFull(rand.Reader, salt[:])

	packet, err := Seal(connID, key, salt, 1, []byte("frame bytes"), 0)
	require.NoError(t, err)

	window := &ReplayWindow{}
	ek := ExpectedKey{Key: key, Commitment: Commitment(key)}
	plain, err := Open(packet, connID, ek, salt, 1, window)
	require.NoError(t, err)
	require.Equal(t, []byte("frame bytes"), plain)
}

func TestOpenWrongKeyFails(t *testing.T) {
	var connID [ConnIDSize]byte
	key := randKey(t)
	other := randKey(t)
	var salt [16]byte

	packet, err := Seal(connID, key, salt, 1, []byte("x"), 0)
	require.NoError(t, err)

	window := &ReplayWindow{}
	ek := ExpectedKey{Key: other, Commitment: Commitment(other)}
	_, err = Open(packet, connID, ek, salt, 1, window)
	require.Error(t, err)
}

func TestKeyCommitmentMismatchDetected(t *testing.T) {
	var connID [ConnIDSize]byte
	key := randKey(t)
	var salt [16]byte
	packet, err := Seal(connID, key, salt, 1, []byte("x"), 0)
	require.NoError(t, err)

	window := &ReplayWindow{}
	ek := ExpectedKey{Key: key, Commitment: Commitment(randKey(t))}
	_, err = Open(packet, connID, ek, salt, 1, window)
	require.True(t, wraitherr.Is(err, wraitherr.KeyCommitmentFailed))
}

func TestReplayWindowRejectsDuplicate(t *testing.T) {
	w := &ReplayWindow{}
	require.True(t, w.Accept(5))
	w.Commit(5)
	require.False(t, w.Accept(5))
}

func TestReplayWindowRejectsTooOld(t *testing.T) {
	w := &ReplayWindow{}
	w.Commit(1000)
	require.False(t, w.Accept(1000-WindowWidth))
}

func TestReplayWindowAcceptsReorderedWithinWindow(t *testing.T) {
	w := &ReplayWindow{}
	w.Commit(100)
	require.True(t, w.Accept(95))
	w.Commit(95)
	require.False(t, w.Accept(95))
}

func TestPaddingHiddenInSealedLength(t *testing.T) {
	var connID [ConnIDSize]byte
	key := randKey(t)
	var salt [16]byte
	packet, err := Seal(connID, key, salt, 1, []byte("short"), 64)
	require.NoError(t, err)
	require.Equal(t, ConnIDSize+64+TagSize, len(packet))
}
