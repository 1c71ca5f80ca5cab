package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"sealgate/internal/secret"
)

// Paths are the fixed sibling paths of one store.
type Paths struct {
	Encrypted string // <dir>/<name>.enc, the only durable artifact
	Plaintext string // <dir>/<name>, exists only while unsealed
	Lock      string // <dir>/<name>.lock, advisory lock file
}

// NewPaths returns the store paths for name inside dir.
func NewPaths(dir, name string) Paths {
	plaintext := filepath.Join(dir, name)
	return Paths{
		Encrypted: plaintext + ".enc",
		Plaintext: plaintext,
		Lock:      plaintext + ".lock",
	}
}

// Sidecars returns the SQLite journal files that may sit next to the
// plaintext store. They hold plaintext pages and are erased with it.
func (p Paths) Sidecars() []string {
	return []string{
		p.Plaintext + "-journal",
		p.Plaintext + "-wal",
		p.Plaintext + "-shm",
	}
}

// Settings is the configuration a Gate is constructed with. It is built
// once per process by the application layer.
type Settings struct {
	Paths Paths

	// Passphrase is nil when no passphrase was supplied. The Gate does not
	// own it; the caller closes it after the Gate is done.
	Passphrase *secret.Buffer

	// PassphraseEnv names the source of the passphrase for diagnostics.
	PassphraseEnv string
}

// Gate guards a store: Unseal decrypts and verifies it, Reseal encrypts it
// back and erases the plaintext. A Gate is not safe for concurrent use.
type Gate struct {
	settings Settings
	fsmgr    FilesystemManager
	provider CryptoProvider
	admins   AdminChecker
	vault    Vault
	logger   Logger
	clock    Clock

	state State
	lock  io.Closer
}

// NewGate creates a Gate in the Sealed state. vault may be nil.
func NewGate(settings Settings, fsmgr FilesystemManager, provider CryptoProvider, admins AdminChecker, vault Vault, logger Logger, clock Clock) *Gate {
	return &Gate{
		settings: settings,
		fsmgr:    fsmgr,
		provider: provider,
		admins:   admins,
		vault:    vault,
		logger:   logger,
		clock:    clock,
		state:    Sealed,
	}
}

// State returns the current boot state.
func (g *Gate) State() State {
	return g.state
}

// Paths returns the store paths this gate guards.
func (g *Gate) Paths() Paths {
	return g.settings.Paths
}

// EncryptedStoreExists reports whether the store has ever been sealed.
func (g *Gate) EncryptedStoreExists() (bool, error) {
	return g.fsmgr.Exists(g.settings.Paths.Encrypted)
}

// Unseal decrypts the EncryptedStore into the PlaintextStore and verifies
// that it holds an administrator. On success the gate is Unsealed and keeps
// the store lock until Reseal. Every failure leaves no plaintext on disk and
// moves the gate to Rejected.
func (g *Gate) Unseal(ctx context.Context) error {
	if g.state != Sealed {
		return fmt.Errorf("cannot unseal from state %s", g.state)
	}
	paths := g.settings.Paths

	if !g.hasPassphrase() {
		return g.reject(missingPassphrase(g.settings.PassphraseEnv))
	}

	exists, err := g.fsmgr.Exists(paths.Encrypted)
	if err != nil {
		return g.reject(fmt.Errorf("checking encrypted store: %w", err))
	}
	if !exists {
		return g.reject(encryptedStoreMissing(paths.Encrypted))
	}

	if err := g.acquireLock(); err != nil {
		return g.reject(err)
	}

	present, err := g.fsmgr.Exists(paths.Plaintext)
	if err != nil {
		return g.reject(fmt.Errorf("checking plaintext store: %w", err))
	}
	if present {
		return g.reject(stalePlaintext(paths.Plaintext))
	}

	g.transition(Unsealing)

	ciphertext, err := g.fsmgr.ReadFile(paths.Encrypted)
	if err != nil {
		return g.reject(fmt.Errorf("reading encrypted store: %w", err))
	}

	session, err := g.provider.NewSession(g.settings.Passphrase.Bytes())
	if err != nil {
		return g.reject(cryptoProviderFailed(err))
	}
	defer g.closeSession(session)

	plaintext, err := session.Decrypt(ciphertext)
	if err != nil {
		g.logger.Debug("decrypt failed", "provider", g.provider.Name(), "error", err)
		return g.reject(authorizationFailed(nil))
	}

	err = g.fsmgr.CreateExclusive(paths.Plaintext, plaintext)
	secret.Zero(plaintext)
	if err != nil {
		return g.reject(errors.Join(fmt.Errorf("writing plaintext store: %w", err), g.erasePlaintext()))
	}

	ok, err := g.admins.HasAdmin(ctx, paths.Plaintext)
	if err != nil {
		g.logger.Debug("admin presence check failed", "error", err)
		ok = false
	}
	if !ok {
		if eraseErr := g.erasePlaintext(); eraseErr != nil {
			return g.reject(errors.Join(authorizationFailed(nil), eraseErr))
		}
		return g.reject(authorizationFailed(nil))
	}

	g.transition(Unsealed)
	g.logger.Info("store unsealed", "path", paths.Plaintext, "provider", g.provider.Name())
	return nil
}

// Reseal encrypts the PlaintextStore over the EncryptedStore and securely
// erases the plaintext. From Unsealed this is the normal end of a run. From
// Sealed it is an explicit external reseal of a store left in plaintext.
// If no plaintext exists Reseal is a no-op. If encryption or the ciphertext
// write fails, the plaintext is kept and the gate moves to Rejected.
func (g *Gate) Reseal(ctx context.Context) error {
	from := g.state
	switch from {
	case Unsealed:
	case Sealed:
		if !g.hasPassphrase() {
			return g.reject(missingPassphrase(g.settings.PassphraseEnv))
		}
		if err := g.acquireLock(); err != nil {
			return g.reject(err)
		}
	default:
		return fmt.Errorf("cannot reseal from state %s", from)
	}
	paths := g.settings.Paths

	present, err := g.fsmgr.Exists(paths.Plaintext)
	if err == nil && !present {
		g.logger.Info("no plaintext store, nothing to seal", "path", paths.Plaintext)
		if from == Unsealed {
			g.transition(Resealing)
			g.transition(Sealed)
		}
		g.releaseLock()
		return nil
	}

	g.transition(Resealing)
	if err != nil {
		return g.reject(resealFailed(fmt.Errorf("checking plaintext store: %w", err)))
	}

	ciphertext, err := g.encryptPlaintext()
	if err != nil {
		return g.reject(err)
	}

	if err := g.fsmgr.ReplaceAtomic(paths.Encrypted, ciphertext); err != nil {
		return g.reject(resealFailed(fmt.Errorf("writing encrypted store: %w", err)))
	}

	if err := g.erasePlaintext(); err != nil {
		return g.reject(resealFailed(err))
	}

	g.transition(Sealed)
	g.releaseLock()
	g.logger.Info("store sealed", "path", paths.Encrypted, "bytes", len(ciphertext))

	g.mirror(ctx, ciphertext)
	return nil
}

// Close releases the store lock if it is still held. It does not reseal.
func (g *Gate) Close() error {
	g.releaseLock()
	return nil
}

func (g *Gate) encryptPlaintext() ([]byte, error) {
	plaintext, err := g.fsmgr.ReadFile(g.settings.Paths.Plaintext)
	if err != nil {
		return nil, resealFailed(fmt.Errorf("reading plaintext store: %w", err))
	}
	defer secret.Zero(plaintext)

	session, err := g.provider.NewSession(g.settings.Passphrase.Bytes())
	if err != nil {
		return nil, errors.Join(resealFailed(nil), cryptoProviderFailed(err))
	}
	defer g.closeSession(session)

	ciphertext, err := session.Encrypt(plaintext)
	if err != nil {
		return nil, resealFailed(fmt.Errorf("encrypting store: %w", err))
	}
	return ciphertext, nil
}

// erasePlaintext destroys the plaintext store and its journal sidecars.
func (g *Gate) erasePlaintext() error {
	paths := g.settings.Paths
	var errs []error
	for _, p := range append([]string{paths.Plaintext}, paths.Sidecars()...) {
		if err := g.fsmgr.SecureErase(p); err != nil {
			errs = append(errs, fmt.Errorf("erasing %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (g *Gate) mirror(ctx context.Context, ciphertext []byte) {
	if g.vault == nil {
		return
	}
	name := filepath.Base(g.settings.Paths.Encrypted)
	version := g.clock.Now().Unix()
	err := g.vault.PutSealed(ctx, name, bytes.NewReader(ciphertext), int64(len(ciphertext)), version)
	if err != nil {
		g.logger.Warn("mirroring sealed store to vault failed", "name", name, "error", err)
		return
	}
	g.logger.Info("sealed store mirrored to vault", "name", name, "version", version)
}

func (g *Gate) hasPassphrase() bool {
	return g.settings.Passphrase != nil && g.settings.Passphrase.Len() > 0
}

func (g *Gate) acquireLock() error {
	if g.lock != nil {
		return nil
	}
	lock, err := g.fsmgr.Lock(g.settings.Paths.Lock)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			return StoreLocked(err)
		}
		return fmt.Errorf("locking store: %w", err)
	}
	g.lock = lock
	return nil
}

func (g *Gate) releaseLock() {
	if g.lock == nil {
		return
	}
	if err := g.lock.Close(); err != nil {
		g.logger.Warn("releasing store lock failed", "error", err)
	}
	g.lock = nil
}

func (g *Gate) closeSession(session CryptoSession) {
	if err := session.Close(); err != nil {
		g.logger.Warn("closing crypto session failed", "error", err)
	}
}

func (g *Gate) transition(to State) {
	if !CanTransition(g.state, to) {
		panic(fmt.Sprintf("gate: illegal transition %s -> %s", g.state, to))
	}
	g.logger.Info("gate transition", "from", g.state.String(), "to", to.String())
	g.state = to
}

// reject moves the gate to Rejected, releases the lock and returns err.
func (g *Gate) reject(err error) error {
	g.transition(Rejected)
	g.releaseLock()
	g.logger.Error("gate rejected", "error", err)
	return err
}
