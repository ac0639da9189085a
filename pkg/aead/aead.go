// Package aead implements the outer WRAITH packet layer: XChaCha20-Poly1305
// sealing/opening with per-packet keys supplied by the ratchet, nonce
// derivation from a session salt plus monotonic counter, a sliding replay
// window, and key-commitment verification against multi-key substitution.
package aead

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/blake3"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// KeySize is the AEAD key length in bytes (256 bits).
const KeySize = 32

// NonceSize is the XChaCha20-Poly1305 nonce length in bytes (192 bits).
const NonceSize = chacha20poly1305.NonceSizeX

// TagSize is the AEAD authentication tag length in bytes.
const TagSize = chacha20poly1305.Overhead

// ConnIDSize is the length of the connection id prefixed to every packet.
const ConnIDSize = 8

// MinPacketLen is the smallest legal packet: conn id + one empty-payload
// sealed frame header + tag.
const MinPacketLen = ConnIDSize + 28 + TagSize

const commitmentLabel = "wraith-commit"

// DeriveNonce builds the 24-byte XChaCha20-Poly1305 nonce for counter under
// a session's salt: salt[0:16] || counter[0:8] (big-endian).
func DeriveNonce(salt [16]byte, counter uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[:16], salt[:])
	binary.BigEndian.PutUint64(nonce[16:24], counter)
	return nonce
}

// Commitment returns H(key || "wraith-commit"), the value cross-checked
// before every AEAD open to detect key-confusion attacks (§4.2).
func Commitment(key [KeySize]byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write(key[:])
	h.Write([]byte(commitmentLabel))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Seal pads frameBuf to padTo bytes (if padTo > len(frameBuf)), encrypts it
// under key with the given salt/counter-derived nonce and connID as
// associated data, and returns conn_id || ciphertext || tag. key is zeroed
// by the caller after Seal returns, per the ratchet's per-packet-key
// contract; Seal does not mutate or retain key.
func Seal(connID [ConnIDSize]byte, key [KeySize]byte, salt [16]byte, counter uint64, frameBuf []byte, padTo int) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "init aead", err)
	}
	body := frameBuf
	if padTo > len(frameBuf) {
		padded := make([]byte, padTo)
		copy(padded, frameBuf)
		body = padded
	}
	nonce := DeriveNonce(salt, counter)

	out := make([]byte, 0, ConnIDSize+len(body)+TagSize)
	out = append(out, connID[:]...)
	out = aead.Seal(out, nonce[:], body, connID[:])
	return out, nil
}

// ExpectedKey is supplied by the ratchet and paired with the commitment the
// ratchet expects for the derived key, letting Open detect substitution
// before trusting a tag match.
type ExpectedKey struct {
	Key        [KeySize]byte
	Commitment [32]byte
}

// Open verifies and decrypts a packet produced by Seal. window is the
// receiving direction's replay window; Open checks it only after the AEAD
// tag verifies, per §4.2, to avoid using replay state as a decryption
// oracle, and commits the counter into window on success.
func Open(packet []byte, connID [ConnIDSize]byte, ek ExpectedKey, salt [16]byte, counter uint64, window *ReplayWindow) ([]byte, error) {
	if len(packet) < MinPacketLen {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "packet shorter than minimum")
	}
	if Commitment(ek.Key) != ek.Commitment {
		return nil, wraitherr.New(wraitherr.KeyCommitmentFailed, "key commitment mismatch")
	}

	aead, err := chacha20poly1305.NewX(ek.Key[:])
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "init aead", err)
	}
	nonce := DeriveNonce(salt, counter)
	ciphertext := packet[ConnIDSize:]
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, connID[:])
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.AeadVerifyFailed, "tag verification failed", err)
	}

	if !window.Accept(counter) {
		return nil, wraitherr.New(wraitherr.Replay, "counter already seen or too old")
	}
	window.Commit(counter)
	return plaintext, nil
}
