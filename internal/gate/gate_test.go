package gate_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sealgate/internal/database"
	"sealgate/internal/encryption"
	"sealgate/internal/fs"
	"sealgate/internal/gate"
	"sealgate/internal/secret"
	"sealgate/internal/testutil"
	"sealgate/internal/vault"
)

// gateFixture bundles a Gate with the collaborators tests inspect.
type gateFixture struct {
	gate     *gate.Gate
	paths    gate.Paths
	fsmgr    *testutil.FaultyFilesystemManager
	provider gate.CryptoProvider
	logger   *testutil.RecordingLogger
	vault    *vault.MemoryVault
	clock    *testutil.StubClock
}

type fixtureOptions struct {
	passphrase *secret.Buffer
	provider   gate.CryptoProvider
	admins     gate.AdminChecker
	noVault    bool
}

func newGateFixture(t *testing.T, dir string, opts fixtureOptions) *gateFixture {
	t.Helper()
	paths := gate.NewPaths(dir, "db.sqlite3")

	provider := opts.provider
	if provider == nil {
		provider = encryption.NewLegacyProvider()
	}
	admins := opts.admins
	if admins == nil {
		admins = database.NewAdminChecker()
	}

	f := &gateFixture{
		paths:    paths,
		fsmgr:    testutil.NewFaultyFilesystemManager(),
		provider: provider,
		logger:   testutil.NewRecordingLogger(),
		clock:    testutil.FixedClock(),
	}
	var v gate.Vault
	if !opts.noVault {
		f.vault = vault.NewMemoryVault("mirror")
		v = f.vault
	}

	settings := gate.Settings{
		Paths:         paths,
		Passphrase:    opts.passphrase,
		PassphraseEnv: "SEALGATE_PASSPHRASE",
	}
	f.gate = gate.NewGate(settings, f.fsmgr, provider, admins, v, f.logger, f.clock)
	t.Cleanup(func() { f.gate.Close() })
	return f
}

// sealedFixture returns a fixture over a freshly sealed store.
func sealedFixture(t *testing.T, passphrase string, withAdmin bool) (*gateFixture, []byte) {
	t.Helper()
	dir := t.TempDir()
	paths := gate.NewPaths(dir, "db.sqlite3")
	ciphertext := testutil.SealStore(t, paths, encryption.NewLegacyProvider(), testutil.TestPassphrase, withAdmin)
	f := newGateFixture(t, dir, fixtureOptions{passphrase: testutil.Passphrase(t, passphrase)})
	return f, ciphertext
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestGate_UnsealReseal(t *testing.T) {
	f, before := sealedFixture(t, testutil.TestPassphrase, true)
	ctx := context.Background()

	if err := f.gate.Unseal(ctx); err != nil {
		t.Fatalf("Unseal() error = %v", err)
	}
	if f.gate.State() != gate.Unsealed {
		t.Errorf("State() = %s, want unsealed", f.gate.State())
	}
	if _, err := os.Stat(f.paths.Plaintext); err != nil {
		t.Fatalf("plaintext store missing after Unseal: %v", err)
	}
	info, _ := os.Stat(f.paths.Plaintext)
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("plaintext mode = %o, want 600", perm)
	}

	if err := f.gate.Reseal(ctx); err != nil {
		t.Fatalf("Reseal() error = %v", err)
	}
	if f.gate.State() != gate.Sealed {
		t.Errorf("State() = %s, want sealed", f.gate.State())
	}
	testutil.AssertAbsent(t, f.paths.Plaintext)

	after, err := os.ReadFile(f.paths.Encrypted)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("unchanged store resealed to different ciphertext, want deterministic output")
	}
}

func TestGate_MissingPassphrase(t *testing.T) {
	dir := t.TempDir()
	paths := gate.NewPaths(dir, "db.sqlite3")
	before := testutil.SealStore(t, paths, encryption.NewLegacyProvider(), testutil.TestPassphrase, true)
	f := newGateFixture(t, dir, fixtureOptions{})

	err := f.gate.Unseal(context.Background())
	if !errors.Is(err, gate.ErrConfiguration) {
		t.Fatalf("Unseal() error = %v, want ConfigurationError", err)
	}
	if gate.ExitCode(err) != 1 {
		t.Errorf("ExitCode() = %d, want 1", gate.ExitCode(err))
	}
	if f.gate.State() != gate.Rejected {
		t.Errorf("State() = %s, want rejected", f.gate.State())
	}
	if got := dirEntries(t, dir); len(got) != 1 {
		t.Errorf("store directory = %v, want only the sealed store", got)
	}
	after, _ := os.ReadFile(paths.Encrypted)
	if !bytes.Equal(before, after) {
		t.Error("sealed store modified")
	}
}

func TestGate_EncryptedStoreMissing(t *testing.T) {
	dir := t.TempDir()
	f := newGateFixture(t, dir, fixtureOptions{passphrase: testutil.Passphrase(t, "pw")})

	err := f.gate.Unseal(context.Background())
	if !errors.Is(err, gate.ErrResourceMissing) {
		t.Fatalf("Unseal() error = %v, want ResourceMissing", err)
	}
	if got := dirEntries(t, dir); len(got) != 0 {
		t.Errorf("store directory = %v, want empty", got)
	}
}

func TestGate_WrongPassphrase(t *testing.T) {
	f, before := sealedFixture(t, "not the passphrase", true)

	err := f.gate.Unseal(context.Background())
	if !errors.Is(err, gate.ErrAuthorization) {
		t.Fatalf("Unseal() error = %v, want AuthorizationFailure", err)
	}
	if gate.ExitCode(err) != 1 {
		t.Errorf("ExitCode() = %d, want 1", gate.ExitCode(err))
	}
	if f.gate.State() != gate.Rejected {
		t.Errorf("State() = %s, want rejected", f.gate.State())
	}
	testutil.AssertAbsent(t, append([]string{f.paths.Plaintext}, f.paths.Sidecars()...)...)

	after, _ := os.ReadFile(f.paths.Encrypted)
	if !bytes.Equal(before, after) {
		t.Error("sealed store modified after rejected unseal")
	}
}

func TestGate_NoAdmin(t *testing.T) {
	f, _ := sealedFixture(t, testutil.TestPassphrase, false)

	err := f.gate.Unseal(context.Background())
	if !errors.Is(err, gate.ErrAuthorization) {
		t.Fatalf("Unseal() error = %v, want AuthorizationFailure", err)
	}
	testutil.AssertAbsent(t, f.paths.Plaintext)
}

func TestGate_WrongPassphraseAndNoAdminLookAlike(t *testing.T) {
	wrong, _ := sealedFixture(t, "wrong", true)
	noAdmin, _ := sealedFixture(t, testutil.TestPassphrase, false)

	errWrong := wrong.gate.Unseal(context.Background())
	errNoAdmin := noAdmin.gate.Unseal(context.Background())
	if errWrong == nil || errNoAdmin == nil {
		t.Fatalf("Unseal() errors = (%v, %v), want both non-nil", errWrong, errNoAdmin)
	}
	if errWrong.Error() != errNoAdmin.Error() {
		t.Errorf("diagnostics differ: %q vs %q", errWrong, errNoAdmin)
	}
}

func TestGate_AdminCheckErrorFailsClosed(t *testing.T) {
	dir := t.TempDir()
	paths := gate.NewPaths(dir, "db.sqlite3")
	testutil.SealStore(t, paths, encryption.NewLegacyProvider(), testutil.TestPassphrase, true)
	admins := gate.AdminCheckerFunc(func(context.Context, string) (bool, error) {
		return true, errors.New("admin query failed")
	})
	f := newGateFixture(t, dir, fixtureOptions{passphrase: testutil.Passphrase(t, testutil.TestPassphrase), admins: admins})

	if err := f.gate.Unseal(context.Background()); !errors.Is(err, gate.ErrAuthorization) {
		t.Fatalf("Unseal() error = %v, want AuthorizationFailure", err)
	}
	testutil.AssertAbsent(t, paths.Plaintext)
}

func TestGate_CryptoProviderError(t *testing.T) {
	dir := t.TempDir()
	paths := gate.NewPaths(dir, "db.sqlite3")
	provider := &encryption.TestProvider{}
	testutil.SealStore(t, paths, provider, testutil.TestPassphrase, true)
	provider.SessionErr = errors.New("cipher unavailable")

	f := newGateFixture(t, dir, fixtureOptions{passphrase: testutil.Passphrase(t, "pw"), provider: provider})
	err := f.gate.Unseal(context.Background())
	if !errors.Is(err, gate.ErrCryptoProvider) {
		t.Fatalf("Unseal() error = %v, want CryptoProviderError", err)
	}
	testutil.AssertAbsent(t, paths.Plaintext)
}

func TestGate_StalePlaintext(t *testing.T) {
	f, _ := sealedFixture(t, testutil.TestPassphrase, true)
	if err := os.WriteFile(f.paths.Plaintext, []byte("left behind"), 0600); err != nil {
		t.Fatal(err)
	}

	err := f.gate.Unseal(context.Background())
	if !errors.Is(err, gate.ErrStalePlaintext) {
		t.Fatalf("Unseal() error = %v, want StalePlaintext", err)
	}
	got, _ := os.ReadFile(f.paths.Plaintext)
	if string(got) != "left behind" {
		t.Error("stale plaintext was modified")
	}
}

func TestGate_StoreLocked(t *testing.T) {
	f, _ := sealedFixture(t, testutil.TestPassphrase, true)

	held, err := fs.NewOSFilesystemManager().Lock(f.paths.Lock)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer held.Close()

	err = f.gate.Unseal(context.Background())
	if !errors.Is(err, gate.ErrStoreLocked) {
		t.Fatalf("Unseal() error = %v, want StoreLocked", err)
	}
	testutil.AssertAbsent(t, f.paths.Plaintext)
}

func TestGate_HoldsLockWhileUnsealed(t *testing.T) {
	f, _ := sealedFixture(t, testutil.TestPassphrase, true)
	ctx := context.Background()
	fsmgr := fs.NewOSFilesystemManager()

	if err := f.gate.Unseal(ctx); err != nil {
		t.Fatalf("Unseal() error = %v", err)
	}
	if held, _ := fsmgr.LockHeld(f.paths.Lock); !held {
		t.Error("lock not held while unsealed")
	}

	if err := f.gate.Reseal(ctx); err != nil {
		t.Fatalf("Reseal() error = %v", err)
	}
	if held, _ := fsmgr.LockHeld(f.paths.Lock); held {
		t.Error("lock still held after reseal")
	}
}

func TestGate_ResealPicksUpChanges(t *testing.T) {
	f, before := sealedFixture(t, testutil.TestPassphrase, true)
	ctx := context.Background()

	if err := f.gate.Unseal(ctx); err != nil {
		t.Fatalf("Unseal() error = %v", err)
	}
	db, err := database.OpenConnection(f.paths.Plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO users_user (username, password, date_joined) VALUES ('dave', 'x', 'now')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if err := f.gate.Reseal(ctx); err != nil {
		t.Fatalf("Reseal() error = %v", err)
	}
	after, _ := os.ReadFile(f.paths.Encrypted)
	if bytes.Equal(before, after) {
		t.Error("sealed store not updated after changes")
	}

	// The new ciphertext opens with the same passphrase.
	g := newGateFixture(t, filepath.Dir(f.paths.Plaintext), fixtureOptions{passphrase: testutil.Passphrase(t, testutil.TestPassphrase)})
	if err := g.gate.Unseal(ctx); err != nil {
		t.Fatalf("second Unseal() error = %v", err)
	}
	if err := g.gate.Reseal(ctx); err != nil {
		t.Fatalf("second Reseal() error = %v", err)
	}
}

func TestGate_ResealErasesSidecars(t *testing.T) {
	f, _ := sealedFixture(t, testutil.TestPassphrase, true)
	ctx := context.Background()

	if err := f.gate.Unseal(ctx); err != nil {
		t.Fatalf("Unseal() error = %v", err)
	}
	for _, p := range f.paths.Sidecars() {
		if err := os.WriteFile(p, []byte("journal pages"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.gate.Reseal(ctx); err != nil {
		t.Fatalf("Reseal() error = %v", err)
	}
	testutil.AssertAbsent(t, append([]string{f.paths.Plaintext}, f.paths.Sidecars()...)...)
}

func TestGate_ResealFailureRetainsPlaintext(t *testing.T) {
	f, before := sealedFixture(t, testutil.TestPassphrase, true)
	ctx := context.Background()

	if err := f.gate.Unseal(ctx); err != nil {
		t.Fatalf("Unseal() error = %v", err)
	}
	f.fsmgr.ReplaceAtomicErr = errors.New("disk full")

	err := f.gate.Reseal(ctx)
	if !errors.Is(err, gate.ErrResealFailure) {
		t.Fatalf("Reseal() error = %v, want ResealFailure", err)
	}
	if f.gate.State() != gate.Rejected {
		t.Errorf("State() = %s, want rejected", f.gate.State())
	}
	if _, err := os.Stat(f.paths.Plaintext); err != nil {
		t.Errorf("plaintext store removed after failed reseal: %v", err)
	}
	after, _ := os.ReadFile(f.paths.Encrypted)
	if !bytes.Equal(before, after) {
		t.Error("sealed store modified by failed reseal")
	}
	if f.fsmgr.Calls["SecureErase"] != 0 {
		t.Errorf("SecureErase called %d times, want 0", f.fsmgr.Calls["SecureErase"])
	}
}

func TestGate_ExternalReseal(t *testing.T) {
	dir := t.TempDir()
	paths := gate.NewPaths(dir, "db.sqlite3")
	testutil.NewPlaintextStore(t, paths.Plaintext, true)
	f := newGateFixture(t, dir, fixtureOptions{passphrase: testutil.Passphrase(t, testutil.TestPassphrase)})
	ctx := context.Background()

	if err := f.gate.Reseal(ctx); err != nil {
		t.Fatalf("Reseal() from sealed error = %v", err)
	}
	if f.gate.State() != gate.Sealed {
		t.Errorf("State() = %s, want sealed", f.gate.State())
	}
	testutil.AssertAbsent(t, paths.Plaintext)
	if _, err := os.Stat(paths.Encrypted); err != nil {
		t.Fatalf("sealed store not written: %v", err)
	}

	g := newGateFixture(t, dir, fixtureOptions{passphrase: testutil.Passphrase(t, testutil.TestPassphrase)})
	if err := g.gate.Unseal(ctx); err != nil {
		t.Fatalf("Unseal() of externally sealed store error = %v", err)
	}
	g.gate.Reseal(ctx)
}

func TestGate_ExternalResealWithoutPassphrase(t *testing.T) {
	dir := t.TempDir()
	paths := gate.NewPaths(dir, "db.sqlite3")
	testutil.NewPlaintextStore(t, paths.Plaintext, true)
	f := newGateFixture(t, dir, fixtureOptions{})

	if err := f.gate.Reseal(context.Background()); !errors.Is(err, gate.ErrConfiguration) {
		t.Fatalf("Reseal() error = %v, want ConfigurationError", err)
	}
	if _, err := os.Stat(paths.Plaintext); err != nil {
		t.Errorf("plaintext store removed: %v", err)
	}
	testutil.AssertAbsent(t, paths.Encrypted)
}

func TestGate_ResealWithoutPlaintextIsNoop(t *testing.T) {
	f, before := sealedFixture(t, testutil.TestPassphrase, true)

	if err := f.gate.Reseal(context.Background()); err != nil {
		t.Fatalf("Reseal() error = %v", err)
	}
	if f.gate.State() != gate.Sealed {
		t.Errorf("State() = %s, want sealed", f.gate.State())
	}
	after, _ := os.ReadFile(f.paths.Encrypted)
	if !bytes.Equal(before, after) {
		t.Error("sealed store modified by no-op reseal")
	}
	if f.fsmgr.Calls["ReplaceAtomic"] != 0 {
		t.Errorf("ReplaceAtomic called %d times, want 0", f.fsmgr.Calls["ReplaceAtomic"])
	}
}

func TestGate_RejectedIsTerminal(t *testing.T) {
	f, _ := sealedFixture(t, "wrong", true)
	ctx := context.Background()

	if err := f.gate.Unseal(ctx); err == nil {
		t.Fatal("Unseal() error = nil, want error")
	}
	if err := f.gate.Unseal(ctx); err == nil {
		t.Error("Unseal() from rejected error = nil, want error")
	}
	if err := f.gate.Reseal(ctx); err == nil {
		t.Error("Reseal() from rejected error = nil, want error")
	}
}

func TestGate_MirrorsToVault(t *testing.T) {
	f, _ := sealedFixture(t, testutil.TestPassphrase, true)
	ctx := context.Background()

	if err := f.gate.Unseal(ctx); err != nil {
		t.Fatalf("Unseal() error = %v", err)
	}
	if err := f.gate.Reseal(ctx); err != nil {
		t.Fatalf("Reseal() error = %v", err)
	}

	version, err := f.vault.SealedVersion(ctx, "db.sqlite3.enc")
	if err != nil {
		t.Fatal(err)
	}
	if want := f.clock.Now().Unix(); version != want {
		t.Errorf("vault version = %d, want %d", version, want)
	}
	var mirrored bytes.Buffer
	if err := f.vault.GetSealed(ctx, "db.sqlite3.enc", &mirrored); err != nil {
		t.Fatal(err)
	}
	local, _ := os.ReadFile(f.paths.Encrypted)
	if !bytes.Equal(mirrored.Bytes(), local) {
		t.Error("vault copy differs from local sealed store")
	}
}

func TestGate_NeverLogsPassphrase(t *testing.T) {
	for _, pass := range []string{testutil.TestPassphrase, "a-wrong-passphrase"} {
		f, _ := sealedFixture(t, pass, true)
		ctx := context.Background()
		if err := f.gate.Unseal(ctx); err == nil {
			f.gate.Reseal(ctx)
		}
		if f.logger.Contains(pass) {
			t.Errorf("passphrase %q appeared in logs", pass)
		}
		if !f.logger.Contains("gate transition") {
			t.Error("state transitions were not logged")
		}
	}
}
