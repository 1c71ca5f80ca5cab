package encryption

import (
	"bytes"
	"fmt"

	"sealgate/internal/gate"
)

// testHeader is prepended by TestProvider so sealed output differs from the
// plaintext while staying deterministic and trivially reversible.
var testHeader = []byte("SGTEST\x00\x00")

// TestProvider is a deterministic, crypto-free provider for tests. The
// passphrase is ignored. Set SessionErr to simulate an unavailable provider.
// It cannot be selected from config; tests construct it directly.
type TestProvider struct {
	SessionErr error

	sessions int
}

var _ gate.CryptoProvider = (*TestProvider)(nil)

func NewTestProvider() *TestProvider {
	return &TestProvider{}
}

func (p *TestProvider) Name() string { return "test" }

func (p *TestProvider) NewSession(passphrase []byte) (gate.CryptoSession, error) {
	if p.SessionErr != nil {
		return nil, p.SessionErr
	}
	p.sessions++
	return &testSession{}, nil
}

// Sessions returns how many sessions were opened.
func (p *TestProvider) Sessions() int {
	return p.sessions
}

type testSession struct{}

func (s *testSession) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, 0, len(testHeader)+len(plaintext))
	out = append(out, testHeader...)
	return append(out, plaintext...), nil
}

func (s *testSession) Decrypt(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return bytes.Clone(ciphertext[len(testHeader):]), nil
}

func (s *testSession) Close() error { return nil }
