// Package identity holds an endpoint's long-term signature keypair and its
// separate X25519 static handshake keypair, and the node id derived from
// them. Secret key material lives in a memguard locked buffer and is
// zeroized on Destroy, matching the teacher's use of memguard for ratchet
// secrets.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"
)

// NodeIDSize is the length in bytes of a node identifier.
const NodeIDSize = 32

// NodeID is a 32-byte hash of an endpoint's signature public key.
type NodeID [NodeIDSize]byte

func (id NodeID) String() string {
	return fmt.Sprintf("%x", id[:8])
}

// Identity is an endpoint's long-term keypair: an Ed25519 signature key and
// a separate X25519 static key used only by the handshake. Secret halves
// are kept in a locked buffer laid out as SignPrivateSeed[32] ||
// DHPrivate[32], matching the on-disk identity file format.
type Identity struct {
	SignPublic ed25519.PublicKey
	DHPublic   [32]byte
	ID         NodeID

	secretBuf *memguard.LockedBuffer
	destroyed bool
}

// Generate creates a fresh random identity: an Ed25519 signing keypair and
// an independently generated X25519 static keypair.
func Generate() (*Identity, error) {
	signPub, signPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}
	var dhPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, dhPriv[:]); err != nil {
		return nil, fmt.Errorf("identity: generate dh key: %w", err)
	}
	clamp(&dhPriv)
	return fromSeeds(signPub, signPriv.Seed(), dhPriv)
}

func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

func fromSeeds(signPub ed25519.PublicKey, signSeed []byte, dhPriv [32]byte) (*Identity, error) {
	var dhPub [32]byte
	curve25519.ScalarBaseMult(&dhPub, &dhPriv)

	secret := memguard.NewBuffer(64)
	copy(secret.Bytes()[:32], signSeed)
	copy(secret.Bytes()[32:], dhPriv[:])
	secret.Freeze()

	return &Identity{
		SignPublic: append(ed25519.PublicKey(nil), signPub...),
		DHPublic:   dhPub,
		ID:         deriveNodeID(signPub),
		secretBuf:  secret,
	}, nil
}

func deriveNodeID(signPub ed25519.PublicKey) NodeID {
	h := blake2s.Sum256(signPub)
	var id NodeID
	copy(id[:], h[:])
	return id
}

// DeriveNodeID computes the node id for an arbitrary Ed25519 public key,
// for use by peers authenticating a remote identity during the handshake.
func DeriveNodeID(signPub ed25519.PublicKey) NodeID {
	return deriveNodeID(signPub)
}

// SignPrivate returns the Ed25519 private key for use by the caller. The
// key is re-derived from the locked seed into a fresh slice in ordinary
// (unlocked) memory; it is not wiped when the Identity is destroyed.
func (id *Identity) SignPrivate() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(id.secretBuf.Bytes()[:32])
}

// DHPrivate returns the X25519 static private scalar.
func (id *Identity) DHPrivate() [32]byte {
	var out [32]byte
	copy(out[:], id.secretBuf.Bytes()[32:])
	return out
}

// Destroy wipes the secret key material. Safe to call more than once.
func (id *Identity) Destroy() {
	if id.destroyed {
		return
	}
	id.secretBuf.Destroy()
	id.destroyed = true
}

// Save writes the identity file format from spec §6: SignaturePrivateKey[32]
// (seed form) || X25519StaticPrivateKey[32], permission-restricted to the
// owner.
func (id *Identity) Save(path string) error {
	buf := make([]byte, 64)
	copy(buf[:32], id.secretBuf.Bytes()[:32])
	copy(buf[32:], id.secretBuf.Bytes()[32:])
	defer memguard.WipeBytes(buf)

	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("identity: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}

// Load reads an identity file written by Save.
func Load(path string) (*Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 64)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	defer memguard.WipeBytes(buf)

	signSeed := append([]byte(nil), buf[:32]...)
	signPriv := ed25519.NewKeyFromSeed(signSeed)
	signPub := signPriv.Public().(ed25519.PublicKey)

	var dhPriv [32]byte
	copy(dhPriv[:], buf[32:])

	return fromSeeds(signPub, signSeed, dhPriv)
}
