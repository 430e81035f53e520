package crypto

const (
	// HKDFInfoSigning is the HKDF info string used to derive the ed25519
	// signing seed from a mnemonic seed.
	HKDFInfoSigning = "sealmail:keys:signing:v1"
	// HKDFInfoBox is the HKDF info string used to derive the X25519 box
	// scalar from a mnemonic seed.
	HKDFInfoBox = "sealmail:keys:box:v1"

	// MnemonicEntropyBits is the entropy size of generated mnemonics (24 words).
	MnemonicEntropyBits = 256

	// SigningPublicKeySize is the size of an ed25519 public key in bytes.
	SigningPublicKeySize = 32
	// SigningPrivateKeySize is the size of an ed25519 private key in bytes.
	SigningPrivateKeySize = 64
	// SignatureSize is the size of an ed25519 signature in bytes.
	SignatureSize = 64

	// BoxKeySize is the size of an X25519 public or private key in bytes.
	BoxKeySize = 32
	// BoxNonceSize is the size of the random nonce prefixed to box ciphertexts.
	BoxNonceSize = 24
	// BoxOverhead is the Poly1305 tag size added by box encryption.
	BoxOverhead = 16
	// SealOverhead is the number of bytes an anonymous seal adds
	// (ephemeral public key plus tag).
	SealOverhead = BoxKeySize + BoxOverhead

	// StreamKeySize is the size of a stream cipher key in bytes.
	StreamKeySize = 32
	// StreamHeaderSize is the size of the per-stream random header in bytes.
	StreamHeaderSize = 16
	// StreamChunkSize is the plaintext size of every chunk except the final one.
	StreamChunkSize = 65536
	// StreamOverhead is the per-chunk expansion: one encrypted tag byte plus
	// the 16-byte Poly1305 tag.
	StreamOverhead = 17
	// StreamCipherChunkSize is the ciphertext size of a full chunk.
	StreamCipherChunkSize = StreamChunkSize + StreamOverhead
)

// Chunk tags carried as the first plaintext byte of every stream chunk.
const (
	tagMessage byte = 0x00
	tagFinal   byte = 0x03
)

// Ciphersuite is the canonical string representation of the algorithm suite.
var Ciphersuite = "Ed25519:X25519-XSalsa20-Poly1305:XChaCha20-Poly1305:HKDF-SHA-256"
