package wire

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// DoHWrapper reshapes a packet to resemble a DNS-over-HTTPS query body: a
// 12-byte DNS message header followed by a single TXT-style question whose
// name is the base64url-encoded packet. This mimics the wire shape DoH
// resolvers see, not a functioning DNS implementation — WRAITH's own AEAD
// layer, not this framing, is what an observer cannot distinguish from
// noise.
type DoHWrapper struct{}

const dnsHeaderLen = 12

func (DoHWrapper) Wrap(packet []byte) ([]byte, error) {
	encoded := base64.RawURLEncoding.EncodeToString(packet)
	if len(encoded) > 253 {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "packet too large for doh-shaped single label")
	}
	out := make([]byte, dnsHeaderLen, dnsHeaderLen+1+len(encoded)+1+4+1)
	binary.BigEndian.PutUint16(out[0:2], 0x0000) // transaction id, caller may randomize
	binary.BigEndian.PutUint16(out[2:4], 0x0100) // standard query, recursion desired
	binary.BigEndian.PutUint16(out[4:6], 1)      // qdcount
	// ancount/nscount/arcount left zero

	out = append(out, byte(len(encoded)))
	out = append(out, encoded...)
	out = append(out, 0x00)             // root label
	out = append(out, 0x00, 0x10)       // qtype TXT
	out = append(out, 0x00, 0x01)       // qclass IN
	return out, nil
}

func (DoHWrapper) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) < dnsHeaderLen+1 {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "short doh-shaped message")
	}
	i := dnsHeaderLen
	labelLen := int(wrapped[i])
	i++
	if i+labelLen > len(wrapped) {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "truncated doh-shaped label")
	}
	encoded := wrapped[i : i+labelLen]
	packet, err := base64.RawURLEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "decode doh-shaped label", err)
	}
	return packet, nil
}
