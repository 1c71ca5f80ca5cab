package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"sealgate/internal/database"
	"sealgate/internal/database/migrations"
	"sealgate/internal/gate"
	"sealgate/internal/secret"
)

// TestPassphrase is the passphrase used by SealStore fixtures.
const TestPassphrase = "correct horse battery staple"

// NewPlaintextStore creates a migrated SQLite store at path. When withAdmin
// is true it holds one superuser named "admin".
func NewPlaintextStore(t *testing.T, path string, withAdmin bool) {
	t.Helper()

	db, err := database.OpenConnection(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	if withAdmin {
		acct := database.Account{Username: "admin", Password: []byte("admin-password")}
		if err := database.CreateAdmin(context.Background(), db, acct, time.Now()); err != nil {
			t.Fatalf("failed to create admin: %v", err)
		}
	}
}

// SealStore creates a store for paths, encrypts it with provider under
// passphrase into paths.Encrypted, and removes the plaintext. It returns
// the ciphertext.
func SealStore(t *testing.T, paths gate.Paths, provider gate.CryptoProvider, passphrase string, withAdmin bool) []byte {
	t.Helper()

	NewPlaintextStore(t, paths.Plaintext, withAdmin)
	plaintext, err := os.ReadFile(paths.Plaintext)
	if err != nil {
		t.Fatalf("failed to read store: %v", err)
	}

	session, err := provider.NewSession([]byte(passphrase))
	if err != nil {
		t.Fatalf("failed to open crypto session: %v", err)
	}
	defer session.Close()

	ciphertext, err := session.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("failed to encrypt store: %v", err)
	}
	if err := os.WriteFile(paths.Encrypted, ciphertext, 0600); err != nil {
		t.Fatalf("failed to write sealed store: %v", err)
	}
	if err := os.Remove(paths.Plaintext); err != nil {
		t.Fatalf("failed to remove plaintext store: %v", err)
	}
	return ciphertext
}

// Passphrase returns s in a secret.Buffer that is closed when the test ends.
func Passphrase(t *testing.T, s string) *secret.Buffer {
	t.Helper()
	buf, err := secret.NewFromBytes([]byte(s))
	if err != nil {
		t.Fatalf("failed to allocate passphrase: %v", err)
	}
	t.Cleanup(func() { buf.Close() })
	return buf
}

// AssertAbsent fails the test if any of paths exists.
func AssertAbsent(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Lstat(p); err == nil {
			t.Errorf("%s exists, want absent", p)
		} else if !os.IsNotExist(err) {
			t.Errorf("stat %s: %v", p, err)
		}
	}
}
