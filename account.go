package sealmail

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"

	"github.com/sealmail/client-go/internal/crypto"
)

// KeyPair holds an account's signing and box keypairs and the mnemonic
// they were derived from.
type KeyPair = crypto.KeyPair

// AccountClaims identifies an account and device in an auth token.
type AccountClaims = crypto.AccountClaims

// MakeKeys derives a KeyPair from a BIP-39 mnemonic. An empty mnemonic
// generates a fresh 24-word phrase. The same phrase always yields the same
// keys.
func MakeKeys(mnemonic string) (*KeyPair, error) {
	kp, err := crypto.MakeKeys(mnemonic)
	if err != nil {
		return nil, wrapCryptoError(StageKeys, err)
	}
	return kp, nil
}

// KeyPairFromHex restores a KeyPair from hex-encoded private keys.
func KeyPairFromHex(signingPrivateHex, boxPrivateHex string) (*KeyPair, error) {
	kp, err := crypto.KeyPairFromHex(signingPrivateHex, boxPrivateHex)
	if err != nil {
		return nil, wrapCryptoError(StageKeys, err)
	}
	return kp, nil
}

// ParseBoxPublicKey decodes and validates a hex box public key.
func ParseBoxPublicKey(s string) ([]byte, error) {
	key, err := crypto.ParseBoxPublicKey(s)
	if err != nil {
		return nil, wrapCryptoError(StageKeys, err)
	}
	return key, nil
}

// ParseSigningPublicKey decodes and validates a hex signing public key.
func ParseSigningPublicKey(s string) (ed25519.PublicKey, error) {
	key, err := crypto.ParseSigningPublicKey(s)
	if err != nil {
		return nil, wrapCryptoError(StageKeys, err)
	}
	return key, nil
}

// NewAccountClaims builds claims for keys. An empty deviceID is replaced
// with a random UUID.
func NewAccountClaims(keys *KeyPair, deviceID, serverSig string) AccountClaims {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return AccountClaims{
		AccountKey:       crypto.ToHex(keys.BoxPublicKey),
		DeviceSigningKey: crypto.ToHex(keys.SigningPublicKey),
		DeviceID:         deviceID,
		ServerSig:        serverSig,
	}
}

// CreateAuthToken stamps claims with the current UTC time, signs them and
// returns the portable token. claims is not modified.
func CreateAuthToken(claims AccountClaims, signingPrivate ed25519.PrivateKey) (string, error) {
	return createAuthToken(claims, signingPrivate, time.Now())
}

func createAuthToken(claims AccountClaims, signingPrivate ed25519.PrivateKey, now time.Time) (string, error) {
	token, err := crypto.CreateToken(claims, signingPrivate, now)
	if err != nil {
		return "", wrapCryptoError(StageToken, err)
	}
	return token, nil
}

// VerifyAuthToken decodes token and checks its signature. Any failure is
// an AuthError.
func VerifyAuthToken(token string, signingPublic []byte) (*AccountClaims, error) {
	claims, err := crypto.VerifyToken(token, signingPublic)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return claims, nil
}

// TokenSource mints a bearer token per outbound request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type signingTokenSource struct {
	claims AccountClaims
	priv   ed25519.PrivateKey
	now    func() time.Time
}

// NewTokenSource returns a TokenSource that signs a fresh token with keys
// on every call.
func NewTokenSource(claims AccountClaims, keys *KeyPair) TokenSource {
	return &signingTokenSource{
		claims: claims.Clone(),
		priv:   keys.SigningPrivateKey,
		now:    time.Now,
	}
}

func (s *signingTokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return createAuthToken(s.claims, s.priv, s.now())
}
