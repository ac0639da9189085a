// Package wire implements the optional protocol-mimicry wrappers from §6:
// outbound packets are framed to look like TLS application-data records,
// WebSocket binary frames, or DNS-over-HTTPS queries, and inbound packets
// are symmetrically unwrapped. Wrappers sit outside the AEAD/framing
// layers and are fully transparent to them.
package wire

// Wrapper frames an already-sealed WRAITH packet to resemble another
// protocol's wire format, and reverses the framing on receipt.
type Wrapper interface {
	Wrap(packet []byte) ([]byte, error)
	Unwrap(wrapped []byte) ([]byte, error)
}

// Identity is the no-op wrapper used when no mimicry is configured.
type Identity struct{}

func (Identity) Wrap(packet []byte) ([]byte, error)     { return packet, nil }
func (Identity) Unwrap(wrapped []byte) ([]byte, error) { return wrapped, nil }
