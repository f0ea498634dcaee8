package models

// Encryption parameters for at-rest protection of registration tokens and
// message bodies.
const (
	// NonceSize is the AES-GCM nonce size in bytes
	NonceSize = 12
	// KeySize is the AES-256 key size in bytes
	KeySize = 32
	// Iterations is the PBKDF2 iteration count for key derivation
	Iterations = 100000
)
