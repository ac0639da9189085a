// Package ratchet implements the WRAITH double ratchet: a per-packet
// BLAKE3 symmetric chain-key advance for forward secrecy, plus a periodic
// X25519 DH ratchet for post-compromise recovery, with a bounded
// skipped-message-key cache absorbing reordering. The structure mirrors
// the teacher's Axolotl-style ratchet (chain stepping, a saved-key map for
// stragglers, explicit zeroization on destroy) generalized from its
// secretbox/SHA primitives to BLAKE3 per this protocol's key schedule.
package ratchet

import (
	"crypto/rand"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// MaxSkippedKeys bounds the per-direction skipped-message-key cache (§4.4).
const MaxSkippedKeys = 1024

// Rekey trigger thresholds (§4.4).
const (
	RekeyElapsed = 120 * time.Second
	RekeyPackets = 1_000_000
)

// RekeyGraceFactor multiplies the RTT estimate to produce the grace period
// during which an old chain key remains valid for in-flight packets.
const RekeyGraceFactor = 4

const (
	chainStepLabel   = 0x01
	messageKeyLabel  = 0x02
	dhRatchetHKDFTag = "wraith-dh-ratchet"
)

// Chain is one direction's symmetric ratchet state: a chain key that steps
// forward once per packet, deriving an independent message key each step.
type Chain struct {
	key     [32]byte
	counter uint64
}

// NewChain seeds a chain from a handshake-derived key.
func NewChain(key [32]byte) *Chain {
	return &Chain{key: key}
}

// step derives (message_key_n, chain_key_{n+1}) from chain_key_n and
// returns the message key, advancing c in place. The caller zeroizes the
// returned message key after use.
func (c *Chain) step() [32]byte {
	msgKey := deriveLabeled(c.key, messageKeyLabel)
	next := deriveLabeled(c.key, chainStepLabel)
	memguard.WipeBytes(c.key[:])
	c.key = next
	c.counter++
	return msgKey
}

func deriveLabeled(key [32]byte, label byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write(key[:])
	h.Write([]byte{label})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Counter returns the number of steps already taken on this chain.
func (c *Chain) Counter() uint64 {
	return c.counter
}

// skippedKey is one cached message key for a counter the receive side has
// not yet consumed, with an insertion sequence for FIFO eviction.
type skippedKey struct {
	key [32]byte
	seq uint64
}

// Ratchet holds both directions' chain state, the DH ratchet keys, and
// rekey bookkeeping for one connection. It is single-owner: exactly one
// goroutine accesses a given Ratchet at a time (the connection's worker).
type Ratchet struct {
	Send *Chain
	Recv *Chain

	skipped    map[uint64]skippedKey
	skipOrder  []uint64
	insertSeq  uint64

	dhPrivate    [32]byte
	dhPublicSelf [32]byte
	dhPublicPeer [32]byte

	lastRekeyAt    time.Time
	packetsSent    uint64
	bytesSent      uint64
	byteBudget     uint64
	destroyed      bool

	// oldRecv holds the pre-rekey receive chain, with oldRecvExpires set
	// to the end of the grace window. RecvKeyForCounter uses only the
	// current Recv chain and the skipped-key cache and never consults
	// oldRecv, so packets sealed under the pre-rekey key are not opened
	// after DHRatchetStep.
	oldRecv        *Chain
	oldRecvExpires time.Time
}

// New constructs a Ratchet from handshake output: independent send/recv
// chain keys and the initial DH keypair used for the first periodic ratchet.
func New(sendKey, recvKey [32]byte, dhPrivate, dhPublicPeer [32]byte, byteBudget uint64) *Ratchet {
	var dhPublicSelf [32]byte
	curve25519.ScalarBaseMult(&dhPublicSelf, &dhPrivate)
	return &Ratchet{
		Send:         NewChain(sendKey),
		Recv:         NewChain(recvKey),
		skipped:      make(map[uint64]skippedKey),
		dhPrivate:    dhPrivate,
		dhPublicSelf: dhPublicSelf,
		dhPublicPeer: dhPublicPeer,
		lastRekeyAt:  time.Now(),
		byteBudget:   byteBudget,
	}
}

// NextSendKey advances the send chain and returns the message key to seal
// the next outbound packet with, along with the counter it corresponds to.
// Callers must zeroize the returned key after sealing.
func (r *Ratchet) NextSendKey(payloadLen int) ([32]byte, uint64) {
	key := r.Send.step()
	r.packetsSent++
	r.bytesSent += uint64(payloadLen)
	return key, r.Send.counter
}

// SelfPublic returns the public half of the DH keypair currently backing
// this ratchet's send/recv chains, the value a peer needs to complete a
// matching DHRatchetStep against.
func (r *Ratchet) SelfPublic() [32]byte {
	return r.dhPublicSelf
}

// ShouldRekey reports whether a DH ratchet should be triggered per §4.4's
// three thresholds: elapsed time, packet count, or configured byte budget.
func (r *Ratchet) ShouldRekey() bool {
	if time.Since(r.lastRekeyAt) >= RekeyElapsed {
		return true
	}
	if r.packetsSent >= RekeyPackets {
		return true
	}
	if r.byteBudget > 0 && r.bytesSent >= r.byteBudget {
		return true
	}
	return false
}

// RecvKeyForCounter returns the message key to open an inbound packet at
// counter. If counter is the next expected one, the receive chain steps
// forward. If counter is ahead, intermediate keys are derived and cached
// as skipped. If counter is behind, a cached skipped key is consumed (and
// erased so it cannot be reused), or a Replay-kind error is returned.
func (r *Ratchet) RecvKeyForCounter(counter uint64) ([32]byte, error) {
	switch {
	case counter == r.Recv.counter+1:
		return r.Recv.step(), nil
	case counter > r.Recv.counter+1:
		var last [32]byte
		for r.Recv.counter+1 < counter {
			sk := r.Recv.step()
			r.cacheSkipped(r.Recv.counter, sk)
		}
		last = r.Recv.step()
		return last, nil
	default:
		sk, ok := r.skipped[counter]
		if !ok {
			return [32]byte{}, wraitherr.New(wraitherr.Replay, fmt.Sprintf("no skipped key for counter %d", counter))
		}
		delete(r.skipped, counter)
		return sk.key, nil
	}
}

func (r *Ratchet) cacheSkipped(counter uint64, key [32]byte) {
	r.insertSeq++
	r.skipped[counter] = skippedKey{key: key, seq: r.insertSeq}
	r.skipOrder = append(r.skipOrder, counter)
	if len(r.skipped) > MaxSkippedKeys {
		r.evictOldestSkipped()
	}
}

func (r *Ratchet) evictOldestSkipped() {
	for len(r.skipOrder) > 0 {
		oldest := r.skipOrder[0]
		r.skipOrder = r.skipOrder[1:]
		if sk, ok := r.skipped[oldest]; ok {
			memguard.WipeBytes(sk.key[:])
			delete(r.skipped, oldest)
			return
		}
	}
}

// DHRatchetStep performs the responder or initiator half of a periodic DH
// ratchet: given the peer's fresh ephemeral public key, derive a new chain
// key for both directions via HKDF(current_chain || DH(new, old)), rotate,
// and stash the current receive chain as the grace-period fallback.
func (r *Ratchet) DHRatchetStep(peerEphemeralPublic [32]byte, rtt time.Duration) (newSelfPublic [32]byte, err error) {
	sharedSlice, err := curve25519.X25519(r.dhPrivate[:], peerEphemeralPublic[:])
	if err != nil {
		return [32]byte{}, wraitherr.Wrap(wraitherr.RekeyFailed, "dh computation failed", err)
	}
	var shared [32]byte
	copy(shared[:], sharedSlice)

	newSendKey := r.deriveFromDH(r.Send.key, shared, "send")
	newRecvKey := r.deriveFromDH(r.Recv.key, shared, "recv")

	r.oldRecv = r.Recv
	r.oldRecvExpires = time.Now().Add(RekeyGraceFactor * rtt)

	r.Send = NewChain(newSendKey)
	r.Recv = NewChain(newRecvKey)
	r.dhPublicPeer = peerEphemeralPublic
	r.packetsSent = 0
	r.bytesSent = 0
	r.lastRekeyAt = time.Now()

	memguard.WipeBytes(r.dhPrivate[:])
	newPriv, err := freshDHPrivate()
	if err != nil {
		return [32]byte{}, err
	}
	r.dhPrivate = newPriv
	curve25519.ScalarBaseMult(&r.dhPublicSelf, &r.dhPrivate)
	memguard.WipeBytes(shared[:])

	return r.dhPublicSelf, nil
}

func newBlake3Hash() hash.Hash {
	return blake3.New(32, nil)
}

// deriveFromDH implements HKDF(current_chain || DH(new, old)) from §4.4:
// the DH output is the HKDF secret, the current chain key is salt, and the
// direction label domain-separates the send/recv derivations.
func (r *Ratchet) deriveFromDH(currentChain, dhOutput [32]byte, label string) [32]byte {
	reader := hkdf.New(newBlake3Hash, dhOutput[:], currentChain[:], []byte(dhRatchetHKDFTag+"-"+label))
	var out [32]byte
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		panic("ratchet: hkdf-blake3 output exhausted: " + err.Error())
	}
	return out
}

// ExpireOldRecvChain clears the grace-period fallback chain once its
// window has passed; the caller invokes this from its timer loop.
func (r *Ratchet) ExpireOldRecvChain() {
	if r.oldRecv != nil && time.Now().After(r.oldRecvExpires) {
		memguard.WipeBytes(r.oldRecv.key[:])
		r.oldRecv = nil
	}
}

// Destroy zeroizes all key material held by the ratchet. Safe to call more
// than once.
func (r *Ratchet) Destroy() {
	if r.destroyed {
		return
	}
	memguard.WipeBytes(r.Send.key[:])
	memguard.WipeBytes(r.Recv.key[:])
	memguard.WipeBytes(r.dhPrivate[:])
	for k, sk := range r.skipped {
		memguard.WipeBytes(sk.key[:])
		delete(r.skipped, k)
	}
	if r.oldRecv != nil {
		memguard.WipeBytes(r.oldRecv.key[:])
		r.oldRecv = nil
	}
	r.destroyed = true
}

func freshDHPrivate() ([32]byte, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, wraitherr.Wrap(wraitherr.RekeyFailed, "generate ephemeral dh key", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return priv, nil
}
