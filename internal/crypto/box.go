package crypto

import (
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

func key32(b []byte) (*[BoxKeySize]byte, error) {
	if len(b) != BoxKeySize {
		return nil, ErrInvalidKeySize
	}
	var k [BoxKeySize]byte
	copy(k[:], b)
	return &k, nil
}

// BoxSeal encrypts and authenticates plaintext from ownPrivate to
// peerPublic. The random nonce is prefixed to the output.
func BoxSeal(plaintext, peerPublic, ownPrivate []byte) ([]byte, error) {
	pk, err := key32(peerPublic)
	if err != nil {
		return nil, err
	}
	sk, err := key32(ownPrivate)
	if err != nil {
		return nil, err
	}

	var nonce [BoxNonceSize]byte
	if _, err := io.ReadFull(random(), nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return box.Seal(nonce[:], plaintext, &nonce, pk, sk), nil
}

// BoxOpen reverses BoxSeal.
func BoxOpen(ciphertext, peerPublic, ownPrivate []byte) ([]byte, error) {
	if len(ciphertext) < BoxNonceSize+BoxOverhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrBoxOpenFailed)
	}
	pk, err := key32(peerPublic)
	if err != nil {
		return nil, err
	}
	sk, err := key32(ownPrivate)
	if err != nil {
		return nil, err
	}

	var nonce [BoxNonceSize]byte
	copy(nonce[:], ciphertext[:BoxNonceSize])

	out, ok := box.Open(nil, ciphertext[BoxNonceSize:], &nonce, pk, sk)
	if !ok {
		return nil, ErrBoxOpenFailed
	}
	return out, nil
}

// SealAnonymous encrypts msg to recipientPublic under a fresh ephemeral key
// so the result carries no sender identity.
func SealAnonymous(msg, recipientPublic []byte) ([]byte, error) {
	pk, err := key32(recipientPublic)
	if err != nil {
		return nil, err
	}
	out, err := box.SealAnonymous(nil, msg, pk, random())
	if err != nil {
		return nil, fmt.Errorf("failed to seal: %w", err)
	}
	return out, nil
}

// OpenAnonymous reverses SealAnonymous with the recipient's private key.
func OpenAnonymous(sealed, recipientPrivate []byte) ([]byte, error) {
	if len(sealed) < SealOverhead {
		return nil, fmt.Errorf("%w: sealed box too short", ErrSealOpenFailed)
	}
	pub, err := BoxPublicFromPrivate(recipientPrivate)
	if err != nil {
		return nil, err
	}
	pk, _ := key32(pub)
	sk, _ := key32(recipientPrivate)

	out, ok := box.OpenAnonymous(nil, sealed, pk, sk)
	if !ok {
		return nil, ErrSealOpenFailed
	}
	return out, nil
}
