package gate

// CryptoProvider builds CryptoSessions from a passphrase. Implementations fix
// the hash, cipher and mode; the gate never chooses algorithms itself.
type CryptoProvider interface {
	// Name identifies the parameter set, e.g. "legacy" or "age".
	Name() string

	// NewSession derives key material from passphrase. The provider must not
	// retain passphrase after NewSession returns.
	NewSession(passphrase []byte) (CryptoSession, error)
}

// CryptoSession owns derived key material for one unseal or reseal.
// Close must be called on every exit path; it releases and zeroes the key.
type CryptoSession interface {
	// Encrypt transforms the whole buffer in one final block.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt is the inverse of Encrypt. Providers without an integrity tag
	// return garbage on a wrong key instead of an error; the caller must
	// validate the result semantically.
	Decrypt(ciphertext []byte) ([]byte, error)

	Close() error
}
