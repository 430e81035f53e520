package sealmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sealmail/client-go/internal/api"
	"github.com/sealmail/client-go/internal/crypto"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrAuth is matched by every AuthError.
	ErrAuth = errors.New("auth token rejected")

	// ErrCrypto is matched by every CryptoError.
	ErrCrypto = errors.New("cryptographic operation failed")

	// ErrDirectory is matched by every DirectoryError.
	ErrDirectory = errors.New("recipient directory lookup failed")

	// ErrTransport is matched by every TransportError.
	ErrTransport = errors.New("transport failed")

	// ErrUnauthorized is matched by a TransportError with status 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is matched by a TransportError with status 429.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrMissingKeys is returned when an operation needs account keys and
	// none were configured.
	ErrMissingKeys = errors.New("account keys are required")

	// ErrMissingTransport is returned when no Transport is configured.
	ErrMissingTransport = errors.New("transport is required")

	// ErrMissingStorage is returned when no Storage is configured.
	ErrMissingStorage = errors.New("storage is required")

	// ErrNoCapableRecipients is returned when external delivery is disabled
	// and no recipient has a mailbox key.
	ErrNoCapableRecipients = errors.New("no recipient can receive sealed mail")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")
)

// Crypto stages reported by CryptoError.
const (
	StageKeys   = "keys"
	StageStream = "stream"
	StageSeal   = "seal"
	StageOpen   = "open"
	StageVerify = "verify"
	StageToken  = "token"
)

// SealmailError is implemented by all SDK errors.
type SealmailError interface {
	error
	SealmailError() // marker method
}

// ValidationError reports malformed input: keys, metadata, addresses.
type ValidationError struct {
	Field  string
	Errors []string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg += " for " + e.Field
	}
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SealmailError implements the SealmailError interface.
func (e *ValidationError) SealmailError() {}

// AuthError reports a token that failed to decode or verify.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth token rejected: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}

// SealmailError implements the SealmailError interface.
func (e *AuthError) SealmailError() {}

// CryptoError reports an authentication or decryption failure. The artifact
// it concerns must be discarded.
type CryptoError struct {
	Stage string
	Err   error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto failure at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *CryptoError) Is(target error) bool {
	return target == ErrCrypto
}

// SealmailError implements the SealmailError interface.
func (e *CryptoError) SealmailError() {}

// DirectoryError reports a failed recipient key lookup.
type DirectoryError struct {
	Addresses []string
	Err       error
}

func (e *DirectoryError) Error() string {
	if len(e.Addresses) == 0 {
		return fmt.Sprintf("directory lookup failed: %v", e.Err)
	}
	return fmt.Sprintf("directory lookup failed for %s: %v", strings.Join(e.Addresses, ", "), e.Err)
}

// Unwrap returns the underlying error.
func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DirectoryError) Is(target error) bool {
	return target == ErrDirectory
}

// SealmailError implements the SealmailError interface.
func (e *DirectoryError) SealmailError() {}

// TransportError reports a failed submission or fetch. StatusCode is zero
// when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	RequestID  string
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("transport")
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	b.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if e.RequestID != "" {
		b.WriteString(" (request_id: " + e.RequestID + ")")
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return true
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// SealmailError implements the SealmailError interface.
func (e *TransportError) SealmailError() {}

// RecipientError reports a failure confined to one recipient.
type RecipientError struct {
	Address string
	Err     error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("recipient %s: %v", e.Address, e.Err)
}

// Unwrap returns the underlying error.
func (e *RecipientError) Unwrap() error {
	return e.Err
}

// SealmailError implements the SealmailError interface.
func (e *RecipientError) SealmailError() {}

// EnvelopeError reports an inbound envelope that could not be opened or
// verified.
type EnvelopeError struct {
	ID  string
	Err error
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("envelope %s: %v", e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// SealmailError implements the SealmailError interface.
func (e *EnvelopeError) SealmailError() {}

// validationSentinels are the crypto errors that describe bad input rather
// than failed authentication.
var validationSentinels = []error{
	crypto.ErrInvalidMnemonic,
	crypto.ErrInvalidKeySize,
	crypto.ErrInvalidPublicKey,
	crypto.ErrInvalidHeaderSize,
	crypto.ErrInvalidMetadata,
}

var cryptoSentinels = []error{
	crypto.ErrChunkAuthFailed,
	crypto.ErrTruncatedStream,
	crypto.ErrTrailingData,
	crypto.ErrSealOpenFailed,
	crypto.ErrBoxOpenFailed,
	crypto.ErrSignatureVerificationFailed,
	crypto.ErrInvalidSignatureSize,
	crypto.ErrInvalidPayload,
	crypto.ErrInvalidToken,
	crypto.ErrStreamClosed,
	crypto.ErrStreamNotClosed,
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// wrapCryptoError converts internal crypto errors to public errors.
// Errors from other sources (I/O, context) are returned unchanged.
func wrapCryptoError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se SealmailError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case isAny(err, validationSentinels):
		return &ValidationError{Field: stage, Errors: []string{err.Error()}, Err: err}
	case isAny(err, cryptoSentinels):
		return &CryptoError{Stage: stage, Err: err}
	}
	return err
}

// wrapError converts internal API errors to public errors.
// This ensures that errors.Is() checks work with public sentinel errors.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se SealmailError
	if errors.As(err, &se) {
		return err
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{
			Op:         op,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			RequestID:  apiErr.RequestID,
			Retryable:  apiErr.Retryable,
			Err:        err,
		}
	}

	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return &TransportError{Op: op, Retryable: true, Err: err}
	}

	return &TransportError{Op: op, Err: err}
}
