package ratchet

import (
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func randKey32(t *testing.T) [32]byte {
	var k [32]byte
	_, err := io.ReadFull(rand.Reader, k[:])
	require.NoError(t, err)
	return k
}

func newTestRatchet(t *testing.T) *Ratchet {
	return New(randKey32(t), randKey32(t), randKey32(t), randKey32(t), 0)
}

func TestChainStepsAreDistinctAndDeterministicGivenSeed(t *testing.T) {
	key := randKey32(t)
	c1 := NewChain(key)
	c2 := NewChain(key)
	k1 := c1.step()
	k2 := c2.step()
	require.Equal(t, k1, k2, "same seed must derive same first message key")

	k1b := c1.step()
	require.NotEqual(t, k1, k1b, "successive steps must derive distinct keys")
}

func TestSendKeysNeverRepeatAcrossSteps(t *testing.T) {
	r := newTestRatchet(t)
	seen := map[[32]byte]bool{}
	for i := 0; i < 100; i++ {
		k, _ := r.NextSendKey(10)
		require.False(t, seen[k], "message key repeated")
		seen[k] = true
	}
}

func TestRecvKeyForCounterInOrder(t *testing.T) {
	sendKey := randKey32(t)
	r1 := New(sendKey, randKey32(t), randKey32(t), randKey32(t), 0)
	r2 := New(randKey32(t), sendKey, randKey32(t), randKey32(t), 0)

	sentKey, counter := r1.NextSendKey(5)
	recvKey, err := r2.RecvKeyForCounter(counter)
	require.NoError(t, err)
	require.Equal(t, sentKey, recvKey)
}

func TestRecvKeyForCounterOutOfOrderCachesSkipped(t *testing.T) {
	sendKey := randKey32(t)
	r1 := New(sendKey, randKey32(t), randKey32(t), randKey32(t), 0)
	r2 := New(randKey32(t), sendKey, randKey32(t), randKey32(t), 0)

	var keys [][32]byte
	var counters []uint64
	for i := 0; i < 5; i++ {
		k, c := r1.NextSendKey(1)
		keys = append(keys, k)
		counters = append(counters, c)
	}

	// Deliver out of order: 5, then 1..4.
	gotLast, err := r2.RecvKeyForCounter(counters[4])
	require.NoError(t, err)
	require.Equal(t, keys[4], gotLast)

	for i := 0; i < 4; i++ {
		got, err := r2.RecvKeyForCounter(counters[i])
		require.NoError(t, err)
		require.Equal(t, keys[i], got)
	}
}

func TestSkippedKeyConsumedOnceOnly(t *testing.T) {
	sendKey := randKey32(t)
	r1 := New(sendKey, randKey32(t), randKey32(t), randKey32(t), 0)
	r2 := New(randKey32(t), sendKey, randKey32(t), randKey32(t), 0)

	_, c1 := r1.NextSendKey(1)
	_, c2 := r1.NextSendKey(1)
	_, err := r2.RecvKeyForCounter(c2)
	require.NoError(t, err)

	_, err = r2.RecvKeyForCounter(c1)
	require.NoError(t, err)

	_, err = r2.RecvKeyForCounter(c1)
	require.Error(t, err, "replaying a consumed skipped counter must fail")
}

func TestShouldRekeyOnPacketCount(t *testing.T) {
	r := newTestRatchet(t)
	require.False(t, r.ShouldRekey())
	r.packetsSent = RekeyPackets
	require.True(t, r.ShouldRekey())
}

func TestShouldRekeyOnElapsed(t *testing.T) {
	r := newTestRatchet(t)
	r.lastRekeyAt = time.Now().Add(-RekeyElapsed - time.Second)
	require.True(t, r.ShouldRekey())
}

func TestDHRatchetStepRotatesKeys(t *testing.T) {
	r := newTestRatchet(t)
	oldSend := r.Send.key
	oldRecv := r.Recv.key

	peerPriv := randKey32(t)
	var peerPub [32]byte
	// Derive a valid-looking peer public key via the same base-mult used
	// elsewhere; exact curve validity doesn't matter for this state-
	// transition test.
	copy(peerPub[:], peerPriv[:])

	newPub, err := r.DHRatchetStep(peerPub, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, newPub)
	require.NotEqual(t, oldSend, r.Send.key)
	require.NotEqual(t, oldRecv, r.Recv.key)
	require.NotNil(t, r.oldRecv)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	r := newTestRatchet(t)
	r.NextSendKey(10)
	r.NextSendKey(10)

	b, err := r.Marshal()
	require.NoError(t, err)

	r2, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, r.Send.key, r2.Send.key)
	require.Equal(t, r.Send.counter, r2.Send.counter)
	require.Equal(t, r.Recv.key, r2.Recv.key)
}

func TestDestroyZeroesKeys(t *testing.T) {
	r := newTestRatchet(t)
	r.Destroy()
	require.Equal(t, [32]byte{}, r.Send.key)
	require.Equal(t, [32]byte{}, r.Recv.key)
	require.NotPanics(t, r.Destroy)
}
