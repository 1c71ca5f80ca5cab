package encryption

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"errors"
	"fmt"

	"sealgate/internal/gate"
	"sealgate/internal/secret"
)

// LegacyProvider reproduces the reference store format:
//
//   - key: MD5 of the UTF-8 passphrase, expanded to a 192-bit 3DES key with
//     the CryptDeriveKey ipad/opad construction; no salt
//   - cipher: 3DES in ECB mode with PKCS#5 padding
//   - no header, no integrity tag
//
// These parameters are weak. The same passphrase always yields the same key,
// and identical plaintext blocks map to identical ciphertext blocks. A wrong
// passphrase decrypts to garbage rather than failing. They are kept only so
// existing stores can be read and written; use AgeProvider for new stores.
type LegacyProvider struct{}

var _ gate.CryptoProvider = (*LegacyProvider)(nil)

const (
	legacyKeySize   = 24
	legacyBlockSize = des.BlockSize
)

// ErrCiphertextLength is returned when a legacy ciphertext is not a whole
// number of cipher blocks.
var ErrCiphertextLength = errors.New("ciphertext is not a multiple of the block size")

func NewLegacyProvider() *LegacyProvider {
	return &LegacyProvider{}
}

func (p *LegacyProvider) Name() string { return "legacy" }

// NewSession derives the 3DES key into protected memory.
func (p *LegacyProvider) NewSession(passphrase []byte) (gate.CryptoSession, error) {
	key, err := secret.New(legacyKeySize)
	if err != nil {
		return nil, fmt.Errorf("allocating key buffer: %w", err)
	}
	deriveLegacyKey(key.Bytes(), passphrase)

	block, err := des.NewTripleDESCipher(key.Bytes())
	if err != nil {
		key.Close()
		return nil, fmt.Errorf("initializing 3DES: %w", err)
	}

	return &legacySession{key: key, block: block}, nil
}

// deriveLegacyKey fills dst (24 bytes) from the passphrase. The MD5 digest
// is shorter than the key, so it is stretched as
// MD5(0x36*64 ^ digest) || MD5(0x5C*64 ^ digest), truncated to len(dst).
func deriveLegacyKey(dst, passphrase []byte) {
	digest := md5.Sum(passphrase)

	var inner, outer [64]byte
	for i := range inner {
		inner[i] = 0x36
		outer[i] = 0x5c
	}
	for i, b := range digest {
		inner[i] ^= b
		outer[i] ^= b
	}

	h1 := md5.Sum(inner[:])
	h2 := md5.Sum(outer[:])
	n := copy(dst, h1[:])
	copy(dst[n:], h2[:])

	secret.Zero(digest[:])
	secret.Zero(inner[:])
	secret.Zero(outer[:])
	secret.Zero(h1[:])
	secret.Zero(h2[:])
}

// legacySession holds the derived key and the cipher built from it.
type legacySession struct {
	key   *secret.Buffer
	block cipher.Block
}

// Encrypt pads and encrypts the whole buffer block by block.
func (s *legacySession) Encrypt(plaintext []byte) ([]byte, error) {
	if s.block == nil {
		return nil, errors.New("session closed")
	}

	pad := legacyBlockSize - len(plaintext)%legacyBlockSize
	out := make([]byte, len(plaintext)+pad)
	copy(out, plaintext)
	for i := len(plaintext); i < len(out); i++ {
		out[i] = byte(pad)
	}

	for i := 0; i < len(out); i += legacyBlockSize {
		s.block.Encrypt(out[i:i+legacyBlockSize], out[i:i+legacyBlockSize])
	}
	return out, nil
}

// Decrypt decrypts block by block and strips valid padding. Invalid padding
// is what a wrong key produces; the raw bytes are returned unchanged so the
// caller's semantic check rejects them.
func (s *legacySession) Decrypt(ciphertext []byte) ([]byte, error) {
	if s.block == nil {
		return nil, errors.New("session closed")
	}
	if len(ciphertext) == 0 || len(ciphertext)%legacyBlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextLength, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(out); i += legacyBlockSize {
		s.block.Decrypt(out[i:i+legacyBlockSize], ciphertext[i:i+legacyBlockSize])
	}

	if n, ok := paddingLength(out); ok {
		return out[:len(out)-n], nil
	}
	return out, nil
}

// Close zeroes the key. The cipher's expanded key schedule lives on the Go
// heap and is dropped for the collector.
func (s *legacySession) Close() error {
	s.block = nil
	return s.key.Close()
}

func paddingLength(data []byte) (int, bool) {
	n := int(data[len(data)-1])
	if n == 0 || n > legacyBlockSize || n > len(data) {
		return 0, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return 0, false
		}
	}
	return n, true
}
