package handshake

// wireMessage1 is the initiator's first message: only the Elligator2
// representative of its ephemeral public key, which by construction is
// indistinguishable from uniform random bytes to a passive observer.
type wireMessage1 struct {
	EphemeralRepresentative [32]byte
}

// wireMessage2 is the responder's reply: its ephemeral public key in the
// clear (only the initiator's first flight needs representative encoding,
// since by this point the observer already knows a handshake is underway)
// plus its encrypted static key payload.
type wireMessage2 struct {
	EphemeralPublic [32]byte
	EncryptedStatic []byte
}

// wireMessage3 is the initiator's final message: its own encrypted static
// key payload, completing mutual authentication.
type wireMessage3 struct {
	EncryptedStatic []byte
}
