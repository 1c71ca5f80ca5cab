package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"sealgate/internal/gate"
	"sealgate/internal/secret"
)

// AgeProvider is the hardened parameter set: the store is an age file
// encrypted to an scrypt passphrase recipient, with a random salt and an
// authenticated payload. A wrong passphrase fails decryption outright.
// Output is not deterministic. It cannot read legacy stores.
type AgeProvider struct {
	workFactor int
}

var _ gate.CryptoProvider = (*AgeProvider)(nil)

// NewAgeProvider creates an AgeProvider. workFactor is the scrypt log2(N)
// used when sealing; zero keeps age's default.
func NewAgeProvider(workFactor int) *AgeProvider {
	return &AgeProvider{workFactor: workFactor}
}

func (p *AgeProvider) Name() string { return "age" }

// NewSession copies the passphrase into protected memory. scrypt runs per
// Encrypt/Decrypt call because age derives a fresh key per file.
func (p *AgeProvider) NewSession(passphrase []byte) (gate.CryptoSession, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	buf, err := secret.New(len(passphrase))
	if err != nil {
		return nil, fmt.Errorf("allocating passphrase buffer: %w", err)
	}
	copy(buf.Bytes(), passphrase)
	return &ageSession{passphrase: buf, workFactor: p.workFactor}, nil
}

type ageSession struct {
	passphrase *secret.Buffer
	workFactor int
	closed     bool
}

func (s *ageSession) Encrypt(plaintext []byte) ([]byte, error) {
	if s.closed {
		return nil, errors.New("session closed")
	}

	recipient, err := age.NewScryptRecipient(string(s.passphrase.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	var out bytes.Buffer
	w, err := age.Encrypt(&out, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return out.Bytes(), nil
}

func (s *ageSession) Decrypt(ciphertext []byte) ([]byte, error) {
	if s.closed {
		return nil, errors.New("session closed")
	}

	identity, err := age.NewScryptIdentity(string(s.passphrase.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	if s.workFactor > 0 {
		identity.SetMaxWorkFactor(max(s.workFactor, 22))
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting data: %w", err)
	}
	return plaintext, nil
}

func (s *ageSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.passphrase.Close()
}
