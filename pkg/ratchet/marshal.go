package ratchet

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// snapshot is the cbor-serializable projection of a Ratchet used to persist
// state across a connection migration or graceful restart. Skipped keys
// are intentionally not persisted: they are a reordering-tolerance cache,
// not durable state, and persisting live key material to disk would widen
// the secret's exposure window.
type snapshot struct {
	SendKey      [32]byte
	SendCounter  uint64
	RecvKey      [32]byte
	RecvCounter  uint64
	DHPrivate    [32]byte
	DHPublicPeer [32]byte
	PacketsSent  uint64
	BytesSent    uint64
	ByteBudget   uint64
}

// Marshal serializes the ratchet's current chain and DH state via cbor.
func (r *Ratchet) Marshal() ([]byte, error) {
	s := snapshot{
		SendKey:      r.Send.key,
		SendCounter:  r.Send.counter,
		RecvKey:      r.Recv.key,
		RecvCounter:  r.Recv.counter,
		DHPrivate:    r.dhPrivate,
		DHPublicPeer: r.dhPublicPeer,
		PacketsSent:  r.packetsSent,
		BytesSent:    r.bytesSent,
		ByteBudget:   r.byteBudget,
	}
	b, err := cbor.Marshal(s)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "marshal ratchet snapshot", err)
	}
	return b, nil
}

// Unmarshal reconstructs a Ratchet from bytes produced by Marshal. The
// skipped-key cache starts empty; any packets the old connection had not
// yet acknowledged before a migration are re-requested at the application
// layer rather than recovered from a serialized cache.
func Unmarshal(b []byte) (*Ratchet, error) {
	var s snapshot
	if err := cbor.Unmarshal(b, &s); err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "unmarshal ratchet snapshot", err)
	}
	r := New(s.SendKey, s.RecvKey, s.DHPrivate, s.DHPublicPeer, s.ByteBudget)
	r.Send.counter = s.SendCounter
	r.Recv.counter = s.RecvCounter
	r.packetsSent = s.PacketsSent
	r.bytesSent = s.BytesSent
	return r, nil
}
