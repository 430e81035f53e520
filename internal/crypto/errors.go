package crypto

import "errors"

var (
	// ErrInvalidMnemonic is returned when a mnemonic fails BIP-39 validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidKeySize is returned when a key has the wrong length.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidPublicKey is returned when a public key is structurally unusable.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidHeaderSize is returned when a stream header has the wrong length.
	ErrInvalidHeaderSize = errors.New("invalid stream header size")

	// ErrInvalidSignatureSize is returned when a signature has the wrong length.
	ErrInvalidSignatureSize = errors.New("invalid signature size")

	// ErrSignatureVerificationFailed is returned when signature verification fails.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")

	// ErrSealOpenFailed is returned when an anonymous seal cannot be opened.
	ErrSealOpenFailed = errors.New("sealed box open failed")

	// ErrBoxOpenFailed is returned when authenticated box decryption fails.
	ErrBoxOpenFailed = errors.New("box open failed")

	// ErrInvalidPayload is returned when a decrypted structure is malformed.
	// This includes malformed JSON, missing fields, or invalid encoding.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidMetadata is returned when mail metadata fails validation.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrChunkAuthFailed is returned when a stream chunk fails authentication.
	ErrChunkAuthFailed = errors.New("stream chunk authentication failed")

	// ErrTruncatedStream is returned when a stream ends before its final chunk.
	ErrTruncatedStream = errors.New("stream truncated before final chunk")

	// ErrTrailingData is returned when data follows the final chunk.
	ErrTrailingData = errors.New("data after final chunk")

	// ErrStreamClosed is returned when writing to a closed encrypt writer.
	ErrStreamClosed = errors.New("stream already closed")

	// ErrStreamNotClosed is returned when stream info is requested before Close.
	ErrStreamNotClosed = errors.New("stream not closed")

	// ErrInvalidToken is returned when an auth token cannot be decoded.
	ErrInvalidToken = errors.New("invalid auth token")
)
