package handshake

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wraith-network/wraith/pkg/identity"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// RunInitiator drives the initiator side of the three-message handshake
// over conn using self's long-term identity, and returns the derived
// session Output on success.
func RunInitiator(conn MessageConn, self *identity.Identity) (*Output, error) {
	start := time.Now()

	eph, err := generateElligatorEphemeral()
	if err != nil {
		return nil, err
	}

	msg1 := wireMessage1{EphemeralRepresentative: eph.representative}
	b1, err := cbor.Marshal(&msg1)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "marshal message 1", err)
	}
	if err := conn.Send(b1); err != nil {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "send message 1", err)
	}

	b2, err := conn.Recv(start.Add(MessageTimeout))
	if err != nil || deadlineExceeded(start) {
		return nil, wraitherr.New(wraitherr.HandshakeTimeout, "waiting for message 2")
	}
	var msg2 wireMessage2
	if err := cbor.Unmarshal(b2, &msg2); err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "unmarshal message 2", err)
	}

	ee, err := sharedSecret(eph.private, msg2.EphemeralPublic)
	if err != nil {
		return nil, err
	}
	var handshakeKey [32]byte
	handshakeKey = mixKey(handshakeKey, ee, "ee")

	thForSig := hashConcat(b1, msg2.EphemeralPublic[:])

	respStatic, err := decryptStatic(handshakeKey, msg2.EncryptedStatic)
	if err != nil {
		return nil, err
	}
	if !verifyTranscript(respStatic.SignPublic, respStatic.DHStatic, thForSig, respStatic.Signature) {
		return nil, wraitherr.New(wraitherr.HandshakeTimeout, "responder static key signature invalid")
	}

	es, err := sharedSecret(eph.private, respStatic.DHStatic)
	if err != nil {
		return nil, err
	}
	handshakeKey = mixKey(handshakeKey, es, "es")

	thAfterMsg2 := hashConcat(b1, b2)

	selfStaticSig := signTranscript(self, self.DHPublic, thAfterMsg2)
	selfPayload := staticPayload{
		SignPublic: self.SignPublic,
		DHStatic:   self.DHPublic,
		Signature:  selfStaticSig,
	}
	encSelf, err := encryptStatic(handshakeKey, &selfPayload)
	if err != nil {
		return nil, err
	}
	msg3 := wireMessage3{EncryptedStatic: encSelf}
	b3, err := cbor.Marshal(&msg3)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "marshal message 3", err)
	}
	if err := conn.Send(b3); err != nil {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "send message 3", err)
	}

	selfPriv := self.DHPrivate()
	se, err := sharedSecret(selfPriv, msg2.EphemeralPublic)
	if err != nil {
		return nil, err
	}
	handshakeKey = mixKey(handshakeKey, se, "se")

	finalTH := hashConcat(b1, b2, b3)
	out := deriveOutput(handshakeKey, finalTH, true, respStatic.SignPublic, identity.DeriveNodeID(respStatic.SignPublic))
	return &out, nil
}

// RunResponder drives the responder side of the three-message handshake
// over conn using self's long-term identity.
func RunResponder(conn MessageConn, self *identity.Identity) (*Output, error) {
	start := time.Now()

	b1, err := conn.Recv(start.Add(MessageTimeout))
	if err != nil || deadlineExceeded(start) {
		return nil, wraitherr.New(wraitherr.HandshakeTimeout, "waiting for message 1")
	}
	var msg1 wireMessage1
	if err := cbor.Unmarshal(b1, &msg1); err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "unmarshal message 1", err)
	}
	initEphPub := decodeRepresentative(msg1.EphemeralRepresentative)

	eph, err := generateElligatorEphemeral()
	if err != nil {
		return nil, err
	}

	ee, err := sharedSecret(eph.private, initEphPub)
	if err != nil {
		return nil, err
	}
	var handshakeKey [32]byte
	handshakeKey = mixKey(handshakeKey, ee, "ee")

	selfPriv := self.DHPrivate()
	es, err := sharedSecret(selfPriv, initEphPub)
	if err != nil {
		return nil, err
	}
	handshakeKey = mixKey(handshakeKey, es, "es")

	thForSig := hashConcat(b1, eph.public[:])
	selfSig := signTranscript(self, self.DHPublic, thForSig)
	selfPayload := staticPayload{
		SignPublic: self.SignPublic,
		DHStatic:   self.DHPublic,
		Signature:  selfSig,
	}
	encSelf, err := encryptStatic(handshakeKey, &selfPayload)
	if err != nil {
		return nil, err
	}
	msg2 := wireMessage2{EphemeralPublic: eph.public, EncryptedStatic: encSelf}
	b2, err := cbor.Marshal(&msg2)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "marshal message 2", err)
	}
	if err := conn.Send(b2); err != nil {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "send message 2", err)
	}
	thAfterMsg2 := hashConcat(b1, b2)

	b3, err := conn.Recv(start.Add(2 * MessageTimeout))
	if err != nil {
		return nil, wraitherr.New(wraitherr.HandshakeTimeout, "waiting for message 3")
	}
	var msg3 wireMessage3
	if err := cbor.Unmarshal(b3, &msg3); err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "unmarshal message 3", err)
	}

	initStatic, err := decryptStatic(handshakeKey, msg3.EncryptedStatic)
	if err != nil {
		return nil, err
	}
	if !verifyTranscript(initStatic.SignPublic, initStatic.DHStatic, thAfterMsg2, initStatic.Signature) {
		return nil, wraitherr.New(wraitherr.HandshakeTimeout, "initiator static key signature invalid")
	}

	se, err := sharedSecret(eph.private, initStatic.DHStatic)
	if err != nil {
		return nil, err
	}
	handshakeKey = mixKey(handshakeKey, se, "se")

	finalTH := hashConcat(b1, b2, b3)
	out := deriveOutput(handshakeKey, finalTH, false, initStatic.SignPublic, identity.DeriveNodeID(initStatic.SignPublic))
	return &out, nil
}
