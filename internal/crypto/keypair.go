package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/tyler-smith/go-bip39"
)

// randReader is the random source used for nonces and stream keys.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

func random() io.Reader {
	if randReader != nil {
		return randReader
	}
	return rand.Reader
}

// KeyPair holds the signing and box keypairs derived from one mnemonic.
type KeyPair struct {
	// SigningPublicKey is the ed25519 public key.
	SigningPublicKey ed25519.PublicKey
	// SigningPrivateKey is the ed25519 private key (seed plus public key).
	SigningPrivateKey ed25519.PrivateKey
	// BoxPublicKey is the X25519 public key.
	BoxPublicKey []byte
	// BoxPrivateKey is the X25519 private scalar.
	BoxPrivateKey []byte
	// Mnemonic is the BIP-39 phrase the keys were derived from.
	Mnemonic string
}

// NewMnemonic generates a fresh 24-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic collapses runs of whitespace so equivalent phrases
// derive identical keys.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}

// MakeKeys derives a KeyPair from mnemonic. An empty mnemonic generates a
// new one first. Derivation is deterministic for a given phrase.
func MakeKeys(mnemonic string) (*KeyPair, error) {
	mnemonic = NormalizeMnemonic(mnemonic)
	if mnemonic == "" {
		m, err := NewMnemonic()
		if err != nil {
			return nil, err
		}
		mnemonic = m
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	kp, err := deriveKeyPair(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, err
	}
	kp.Mnemonic = mnemonic
	return kp, nil
}

func deriveKeyPair(seed []byte) (*KeyPair, error) {
	signingSeed, err := DeriveKey(seed, nil, []byte(HKDFInfoSigning), ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	boxSecret, err := DeriveKey(seed, nil, []byte(HKDFInfoBox), BoxKeySize)
	if err != nil {
		return nil, err
	}

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)

	var sk, pk x25519.Key
	copy(sk[:], boxSecret)
	x25519.KeyGen(&pk, &sk)

	return &KeyPair{
		SigningPublicKey:  signingPriv.Public().(ed25519.PublicKey),
		SigningPrivateKey: signingPriv,
		BoxPublicKey:      pk[:],
		BoxPrivateKey:     sk[:],
	}, nil
}

// BoxPublicFromPrivate recomputes the X25519 public key for a private scalar.
func BoxPublicFromPrivate(private []byte) ([]byte, error) {
	if len(private) != BoxKeySize {
		return nil, ErrInvalidKeySize
	}
	var sk, pk x25519.Key
	copy(sk[:], private)
	x25519.KeyGen(&pk, &sk)
	return pk[:], nil
}

// ValidateBoxPublicKey checks size and rejects the all-zero point.
func ValidateBoxPublicKey(key []byte) error {
	if len(key) != BoxKeySize {
		return fmt.Errorf("%w: box public key must be %d bytes, got %d", ErrInvalidKeySize, BoxKeySize, len(key))
	}
	var zero [BoxKeySize]byte
	if subtle.ConstantTimeCompare(key, zero[:]) == 1 {
		return fmt.Errorf("%w: all-zero box public key", ErrInvalidPublicKey)
	}
	return nil
}

// ParseBoxPublicKey decodes a hex X25519 public key.
func ParseBoxPublicKey(s string) ([]byte, error) {
	key, err := FromHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if err := ValidateBoxPublicKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ParseSigningPublicKey decodes a hex ed25519 public key.
func ParseSigningPublicKey(s string) (ed25519.PublicKey, error) {
	key, err := FromHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(key) != SigningPublicKeySize {
		return nil, fmt.Errorf("%w: signing public key must be %d bytes, got %d", ErrInvalidKeySize, SigningPublicKeySize, len(key))
	}
	return ed25519.PublicKey(key), nil
}

// KeyPairFromHex restores a KeyPair from persisted hex private keys. Public
// keys are recomputed.
func KeyPairFromHex(signingPrivateHex, boxPrivateHex string) (*KeyPair, error) {
	signingPriv, err := FromHex(signingPrivateHex)
	if err != nil {
		return nil, fmt.Errorf("%w: signing private key: %v", ErrInvalidKeySize, err)
	}
	if len(signingPriv) != SigningPrivateKeySize {
		return nil, fmt.Errorf("%w: signing private key must be %d bytes, got %d", ErrInvalidKeySize, SigningPrivateKeySize, len(signingPriv))
	}
	boxPriv, err := FromHex(boxPrivateHex)
	if err != nil {
		return nil, fmt.Errorf("%w: box private key: %v", ErrInvalidKeySize, err)
	}
	boxPub, err := BoxPublicFromPrivate(boxPriv)
	if err != nil {
		return nil, err
	}

	priv := ed25519.NewKeyFromSeed(signingPriv[:ed25519.SeedSize])
	return &KeyPair{
		SigningPublicKey:  priv.Public().(ed25519.PublicKey),
		SigningPrivateKey: priv,
		BoxPublicKey:      boxPub,
		BoxPrivateKey:     boxPriv,
	}, nil
}
