package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// canonicalMode encodes with RFC 8949 core deterministic rules: sorted map
// keys, shortest integer forms, no indefinite lengths.
var canonicalMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("crypto: cbor encoding mode: %v", err))
	}
	canonicalMode = em
}

// Canonical returns the deterministic encoding of v that detached
// signatures are computed over.
func Canonical(v any) ([]byte, error) {
	b, err := canonicalMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: canonical encoding: %v", ErrInvalidPayload, err)
	}
	return b, nil
}

// SignDetached signs the canonical encoding of v.
func SignDetached(v any, priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != SigningPrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	msg, err := Canonical(v)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, msg), nil
}

// VerifyDetached checks sig against the canonical encoding of v.
func VerifyDetached(v any, sig, pub []byte) error {
	if len(pub) != SigningPublicKeySize {
		return ErrInvalidKeySize
	}
	if len(sig) != SignatureSize {
		return ErrInvalidSignatureSize
	}
	msg, err := Canonical(v)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrSignatureVerificationFailed
	}
	return nil
}
