// Package crypto provides the cryptographic primitives of the sealmail
// protocol: key derivation, detached signatures, metadata envelopes and the
// chunked stream cipher used for message content.
//
// # Algorithm Suite
//
//   - Ed25519: detached signatures over metadata and auth token claims.
//     Signatures are computed over the RFC 8949 core deterministic CBOR
//     encoding of the signed struct, so field order never matters.
//
//   - X25519 + XSalsa20-Poly1305 (NaCl box): authenticated encryption of
//     signed metadata from sender to recipient, plus anonymous sealing with
//     an ephemeral key so the outer envelope reveals no sender.
//
//   - XChaCha20-Poly1305: the stream cipher for content. Plaintext is split
//     into 65536-byte chunks. Each chunk carries one encrypted tag byte
//     (message or final) and a 16-byte Poly1305 tag, so full ciphertext
//     chunks are 65553 bytes. The nonce is the 16-byte stream header
//     followed by the big-endian chunk index.
//
//   - HKDF-SHA-256 (RFC 5869): derives the signing seed and box scalar from
//     the BIP-39 seed with distinct info strings.
//
// # Envelopes
//
// [SealMetadata] performs sign, then box, then seal. [OpenEnvelope] undoes
// the seal and the box but leaves the signature unchecked; call
// [OpenedEnvelope.Verify] with the sender's signing key before trusting the
// pointer:
//
//	opened, err := crypto.OpenEnvelope(envelope, keys.BoxPrivateKey)
//	if err != nil {
//	    return err
//	}
//	if err := opened.Verify(senderSigningKey); err != nil {
//	    return err
//	}
//
// # Streams
//
// A stream is only complete once its final chunk is seen. [DecryptReader]
// returns io.EOF only after authenticating that chunk; a stream that simply
// stops yields [ErrTruncatedStream], and bytes after the final chunk yield
// [ErrTrailingData]. Chunks are reordered or dropped at the cost of an
// authentication failure, since the index is bound into each nonce.
//
// Stream keys and headers are fresh for every stream and must never be
// reused.
//
// # Encoding
//
// Keys, signatures and box ciphertexts travel as lowercase hex. Auth tokens
// are standard base64; [DecodeBase64] also accepts the URL-safe alphabet and
// missing padding.
package crypto
