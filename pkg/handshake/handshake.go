// Package handshake implements the WRAITH three-message mutually
// authenticating handshake: a Noise-XX-equivalent pattern over X25519 with
// ChaCha20-Poly1305 and BLAKE3 transcript hashing, whose initiator
// ephemeral key is Elligator2-encoded so the first datagram is
// indistinguishable from random bytes. Session key derivation follows the
// teacher's DH-ratchet key-stepping style (curve25519 DH feeding an HKDF),
// generalized here to HKDF-BLAKE3 with per-label domain separation.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"hash"
	"io"
	"time"

	"github.com/agl/ed25519/extra25519"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"

	"github.com/wraith-network/wraith/pkg/identity"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// MessageTimeout is the per-message deadline from §4.3: exceeding it fails
// the handshake with HandshakeTimeout.
const MessageTimeout = 5 * time.Second

// ConnIDSize is the length of the derived connection id.
const ConnIDSize = 8

const (
	labelSend   = "send"
	labelRecv   = "recv"
	labelChain  = "chain"
	labelSalt   = "salt"
	labelConnID = "connid"

	maxElligatorAttempts = 256
)

// Output is what both sides derive on a successful handshake (§4.3).
type Output struct {
	SendKey      [32]byte
	RecvKey      [32]byte
	ChainKey     [32]byte
	SessionSalt  [16]byte
	ConnectionID [ConnIDSize]byte
	PeerNodeID   identity.NodeID
	PeerSignKey  ed25519.PublicKey
}

func newBlake3Hash() hash.Hash {
	return blake3.New(32, nil)
}

// hashConcat folds a sequence of byte strings into one BLAKE3 digest,
// binding every message exchanged so far into a single transcript value
// without requiring mutable incremental hash state (each side recomputes
// it deterministically from the messages it has sent and received).
func hashConcat(parts ...[]byte) [32]byte {
	h := newBlake3Hash()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ephemeral is a generated X25519 keypair plus its Elligator2 representative.
type ephemeral struct {
	private        [32]byte
	public         [32]byte
	representative [32]byte
}

// generateElligatorEphemeral retries ephemeral key generation until the
// public key has a valid Elligator2 representative, which happens with
// probability ~50% per candidate as noted in §4.3.
func generateElligatorEphemeral() (*ephemeral, error) {
	for i := 0; i < maxElligatorAttempts; i++ {
		var priv [32]byte
		if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
			return nil, wraitherr.Wrap(wraitherr.HandshakeTimeout, "generate ephemeral", err)
		}
		priv[0] &= 248
		priv[31] &= 127
		priv[31] |= 64

		var rep, pub [32]byte
		if !extra25519.ScalarBaseMult(&pub, &rep, &priv) {
			continue
		}
		return &ephemeral{private: priv, public: pub, representative: rep}, nil
	}
	return nil, wraitherr.New(wraitherr.HandshakeTimeout, "no elligator2-representable ephemeral found")
}

func decodeRepresentative(rep [32]byte) [32]byte {
	var pub [32]byte
	extra25519.RepresentativeToPublicKey(&pub, &rep)
	return pub
}

// staticPayload is what each side transmits, encrypted, once ephemeral-DH
// keying material is available: its static X25519 key and a signature over
// the transcript hash binding that key to its long-term Ed25519 identity.
type staticPayload struct {
	SignPublic ed25519.PublicKey
	DHStatic   [32]byte
	Signature  []byte
}

func signTranscript(id *identity.Identity, dhStatic [32]byte, th [32]byte) []byte {
	msg := append(append([]byte{}, dhStatic[:]...), th[:]...)
	return ed25519.Sign(id.SignPrivate(), msg)
}

func verifyTranscript(signPub ed25519.PublicKey, dhStatic [32]byte, th [32]byte, sig []byte) bool {
	msg := append(append([]byte{}, dhStatic[:]...), th[:]...)
	return ed25519.Verify(signPub, msg, sig)
}

func encryptStatic(key [32]byte, payload *staticPayload) ([]byte, error) {
	plain, err := cbor.Marshal(payload)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "marshal static payload", err)
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "init handshake aead", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, wraitherr.Wrap(wraitherr.HandshakeTimeout, "nonce generation", err)
	}
	sealed := aead.Seal(nil, nonce, plain, nil)
	return append(nonce, sealed...), nil
}

func decryptStatic(key [32]byte, blob []byte) (*staticPayload, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "handshake ciphertext too short")
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "init handshake aead", err)
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.AeadVerifyFailed, "decrypt static key message", err)
	}
	var payload staticPayload
	if err := cbor.Unmarshal(plain, &payload); err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "unmarshal static payload", err)
	}
	return &payload, nil
}

func sharedSecret(priv, pub [32]byte) ([32]byte, error) {
	s, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return [32]byte{}, wraitherr.Wrap(wraitherr.HandshakeTimeout, "dh", err)
	}
	var out [32]byte
	copy(out[:], s)
	return out, nil
}

// mixKey folds a fresh DH output into the running transcript key via
// HKDF-BLAKE3, matching the ratchet package's DH-ratchet derivation style.
func mixKey(current, dhOutput [32]byte, label string) [32]byte {
	reader := hkdf.New(newBlake3Hash, dhOutput[:], current[:], []byte("wraith-hs-"+label))
	var out [32]byte
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		panic("handshake: hkdf-blake3 exhausted: " + err.Error())
	}
	return out
}

// deriveOutput produces the final session keys from the accumulated
// handshake key and transcript hash, with per-label domain separation so
// send/recv/chain/salt/connid can never collide.
func deriveOutput(handshakeKey [32]byte, th [32]byte, initiator bool, peerSignPub ed25519.PublicKey, peerNodeID identity.NodeID) Output {
	expand := func(label string, n int) []byte {
		reader := hkdf.New(newBlake3Hash, handshakeKey[:], th[:], []byte(label))
		out := make([]byte, n)
		if _, err := io.ReadFull(reader, out); err != nil {
			panic("handshake: hkdf-blake3 exhausted: " + err.Error())
		}
		return out
	}

	initToResp := expand(labelSend, 32)
	respToInit := expand(labelRecv, 32)

	var out Output
	if initiator {
		copy(out.SendKey[:], initToResp)
		copy(out.RecvKey[:], respToInit)
	} else {
		copy(out.SendKey[:], respToInit)
		copy(out.RecvKey[:], initToResp)
	}
	copy(out.ChainKey[:], expand(labelChain, 32))
	copy(out.SessionSalt[:], expand(labelSalt, 16))
	copy(out.ConnectionID[:], expand(labelConnID, ConnIDSize))
	out.PeerNodeID = peerNodeID
	out.PeerSignKey = peerSignPub
	return out
}

func deadlineExceeded(start time.Time) bool {
	return time.Since(start) > MessageTimeout
}
