package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"
)

// TokenTimeFormat is the UTC millisecond timestamp stamped into tokens.
const TokenTimeFormat = "2006-01-02T15:04:05.000Z"

// AccountClaims identifies an account and device to the mailbox server.
type AccountClaims struct {
	AccountKey       string            `json:"account_key"`
	DeviceSigningKey string            `json:"device_signing_key"`
	DeviceID         string            `json:"device_id"`
	ServerSig        string            `json:"sig,omitempty"`
	DateTime         string            `json:"date_time,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy.
func (c AccountClaims) Clone() AccountClaims {
	out := c
	if c.Extra != nil {
		out.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// IssuedAt parses the stamped date_time.
func (c AccountClaims) IssuedAt() (time.Time, error) {
	return time.Parse(TokenTimeFormat, c.DateTime)
}

type tokenPayload struct {
	Account AccountClaims `json:"account"`
	Sig     string        `json:"sig"`
}

// CreateToken stamps a copy of claims with now, signs its canonical
// encoding and returns base64 JSON {account, sig}.
func CreateToken(claims AccountClaims, priv ed25519.PrivateKey, now time.Time) (string, error) {
	stamped := claims.Clone()
	stamped.DateTime = now.UTC().Format(TokenTimeFormat)

	sig, err := SignDetached(&stamped, priv)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(tokenPayload{Account: stamped, Sig: ToHex(sig)})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return ToBase64(data), nil
}

// VerifyToken decodes token and checks its signature against pub.
func VerifyToken(token string, pub []byte) (*AccountClaims, error) {
	data, err := DecodeBase64(token)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrInvalidToken, err)
	}

	var payload tokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrInvalidToken, err)
	}
	sig, err := FromHex(payload.Sig)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding: %v", ErrInvalidToken, err)
	}

	if err := VerifyDetached(&payload.Account, sig, pub); err != nil {
		return nil, err
	}
	return &payload.Account, nil
}
