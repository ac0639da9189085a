package wire

import (
	"encoding/binary"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// TLS 1.2 record header constants (RFC 5246 §6.2.1), used only for their
// shape — no real TLS handshake or key schedule is involved.
const (
	tlsContentTypeApplicationData = 23
	tlsVersionMajor                = 3
	tlsVersionMinor                = 3
	tlsRecordHeaderLen             = 5
	tlsMaxRecordLen                = 16384
)

// TLSRecordWrapper frames packets as TLS 1.2 application-data records, so
// a passive observer sees a byte stream shaped like ordinary HTTPS
// traffic. It carries no real TLS security properties; WRAITH's own AEAD
// layer is the sole source of confidentiality and integrity.
type TLSRecordWrapper struct{}

func (TLSRecordWrapper) Wrap(packet []byte) ([]byte, error) {
	if len(packet) > tlsMaxRecordLen {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "packet exceeds tls record max length")
	}
	out := make([]byte, tlsRecordHeaderLen+len(packet))
	out[0] = tlsContentTypeApplicationData
	out[1] = tlsVersionMajor
	out[2] = tlsVersionMinor
	binary.BigEndian.PutUint16(out[3:5], uint16(len(packet)))
	copy(out[tlsRecordHeaderLen:], packet)
	return out, nil
}

func (TLSRecordWrapper) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) < tlsRecordHeaderLen {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "short tls record header")
	}
	if wrapped[0] != tlsContentTypeApplicationData {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "unexpected tls content type")
	}
	n := binary.BigEndian.Uint16(wrapped[3:5])
	if int(n) != len(wrapped)-tlsRecordHeaderLen {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "tls record length mismatch")
	}
	return wrapped[tlsRecordHeaderLen:], nil
}
