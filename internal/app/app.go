package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sealgate/internal/config"
	"sealgate/internal/database"
	"sealgate/internal/database/migrations"
	"sealgate/internal/encryption"
	"sealgate/internal/fs"
	"sealgate/internal/gate"
	"sealgate/internal/secret"
	"sealgate/internal/service"
	"sealgate/internal/vault"
)

// Options tune how an App reports what it does.
type Options struct {
	// Verbose lowers the log level to Debug.
	Verbose bool

	// LogOutput receives a copy of every log line. Defaults to os.Stderr.
	LogOutput io.Writer
}

// App is the application layer between the CLI and the gate.
// It constructs all dependencies from config, runs each operation through
// the lifecycle, and releases the passphrase and lock on Close.
type App struct {
	cfg        *config.Config
	fsmgr      *fs.OSFilesystemManager
	provider   gate.CryptoProvider
	vault      gate.Vault
	passphrase *secret.Buffer
	gate       *gate.Gate
	lifecycle  *gate.Lifecycle
	clock      gate.Clock
	logger     *slog.Logger
	run        *Run
	logFile    *os.File
}

// New creates a fully wired App from the given config.
// operation names the CLI command being run (e.g. "secure-run", "status").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := gate.Clock(gate.RealClock{})
	run := NewRun(operation, clock.Now())

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, logFile, err := newLogger(cfg.LogDir, run.ID, level, out)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{
		cfg:     cfg,
		fsmgr:   fs.NewOSFilesystemManager(),
		clock:   clock,
		logger:  logger,
		run:     run,
		logFile: logFile,
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("run started", "operation", run.Operation)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	envName := a.cfg.Store.PassphraseEnvName()
	passphrase, err := secret.FromEnv(envName)
	if err != nil {
		return fmt.Errorf("reading passphrase: %w", err)
	}
	a.passphrase = passphrase

	provider, err := encryption.NewProviderFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating crypto provider: %w", err)
	}
	a.provider = provider

	// A nil *FileSystemVault stored in the interface would not compare
	// equal to nil, so the gate only ever sees an untyped nil.
	var v gate.Vault
	if len(a.cfg.Vaults) > 0 {
		v, err = vault.NewVaultFromConfig(ctx, a.cfg.Vaults[0])
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v
	}

	gateLogger := &slogAdapter{l: a.logger}
	settings := gate.Settings{
		Paths:         gate.NewPaths(a.cfg.Store.Dir, a.cfg.Store.Name),
		Passphrase:    passphrase,
		PassphraseEnv: envName,
	}
	a.gate = gate.NewGate(settings, a.fsmgr, provider, database.NewAdminChecker(), v, gateLogger, a.clock)
	a.lifecycle = gate.NewLifecycle(a.gate, gateLogger)
	return nil
}

// Paths returns the store paths this App guards.
func (a *App) Paths() gate.Paths {
	return a.gate.Paths()
}

// State returns the current boot state of the gate.
func (a *App) State() gate.State {
	return a.gate.State()
}

// ensureStoreDir creates the store directory. Operations call it only once
// they are about to write a store file, so a rejected run leaves no trace
// under the store directory.
func (a *App) ensureStoreDir() error {
	if err := os.MkdirAll(a.cfg.Store.Dir, 0700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	return nil
}

// Execute runs svc as op behind the gate.
func (a *App) Execute(ctx context.Context, op gate.Operation, svc gate.Service) error {
	return a.lifecycle.Execute(ctx, op, svc)
}

// Migrate brings the store schema up to date.
func (a *App) Migrate(ctx context.Context) error {
	return a.Execute(ctx, gate.OpMigrate, gate.ServiceFunc(func(ctx context.Context) error {
		if err := a.ensureStoreDir(); err != nil {
			return err
		}
		db, err := database.OpenConnection(a.Paths().Plaintext)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.MigrateUp(db); err != nil {
			return err
		}
		a.logger.Info("store migrated", "path", a.Paths().Plaintext)
		return nil
	}))
}

// SchemaVersion reports the schema version recorded in the store. A store
// that has never been created reports an uninitialized status.
func (a *App) SchemaVersion(ctx context.Context) (migrations.Status, error) {
	var st migrations.Status
	err := a.Execute(ctx, gate.OpSchema, gate.ServiceFunc(func(ctx context.Context) error {
		exists, err := a.fsmgr.Exists(a.Paths().Plaintext)
		if err != nil {
			return err
		}
		if !exists {
			st, err = a.latestStatus()
			return err
		}

		db, err := database.OpenConnection(a.Paths().Plaintext)
		if err != nil {
			return err
		}
		defer db.Close()

		st, err = migrations.ReadStatus(db)
		return err
	}))
	return st, err
}

// latestStatus reports the latest known version without creating a store.
func (a *App) latestStatus() (migrations.Status, error) {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return migrations.Status{}, err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	st, err := migrations.ReadStatus(db)
	if err != nil {
		return migrations.Status{}, err
	}
	return migrations.Status{Latest: st.Latest}, nil
}

// CreateAdmin adds a superuser to the store.
func (a *App) CreateAdmin(ctx context.Context, acct database.Account) error {
	return a.Execute(ctx, gate.OpCreateAdmin, gate.ServiceFunc(func(ctx context.Context) error {
		if err := a.ensureStoreDir(); err != nil {
			return err
		}
		db, err := database.OpenConnection(a.Paths().Plaintext)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.CreateAdmin(ctx, db, acct, a.clock.Now()); err != nil {
			return err
		}
		a.logger.Info("admin created", "username", acct.Username)
		return nil
	}))
}

// Shell runs the line-oriented SQL shell against the store.
func (a *App) Shell(ctx context.Context, in io.Reader, out io.Writer) error {
	return a.Execute(ctx, gate.OpShell, gate.ServiceFunc(func(ctx context.Context) error {
		if err := a.ensureStoreDir(); err != nil {
			return err
		}
		db, err := database.OpenConnection(a.Paths().Plaintext)
		if err != nil {
			return err
		}
		defer db.Close()
		return database.Shell(ctx, db, in, out)
	}))
}

// DBShell runs the sqlite3 client against the store.
func (a *App) DBShell(ctx context.Context) error {
	return a.Execute(ctx, gate.OpDBShell, gate.ServiceFunc(func(ctx context.Context) error {
		if err := a.ensureStoreDir(); err != nil {
			return err
		}
		return database.DBShell(ctx, a.Paths().Plaintext)
	}))
}

// Reseal encrypts a plaintext store left on disk and erases it.
func (a *App) Reseal(ctx context.Context) error {
	return a.Execute(ctx, gate.OpReseal, gate.ServiceFunc(a.gate.Reseal))
}

// Check unseals the store, verifies it holds an administrator and that its
// schema is at the latest migration, and reseals it.
func (a *App) Check(ctx context.Context) error {
	return a.Execute(ctx, gate.OpCheck, gate.ServiceFunc(func(context.Context) error {
		db, err := database.OpenConnection(a.Paths().Plaintext)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.CheckDBMigrationStatus(db); err != nil {
			return fmt.Errorf("store schema out of date: %w", err)
		}
		a.logger.Info("store verified", "path", a.Paths().Encrypted)
		return nil
	}))
}

// Stdio is the terminal handed to the wrapped service.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// SecureRun unseals the store, runs command until it exits, and reseals.
// An empty command falls back to [service] command from the config.
func (a *App) SecureRun(ctx context.Context, command []string, stdio Stdio) error {
	if len(command) == 0 {
		command = a.cfg.Service.Command
	}
	stopTimeout, err := a.cfg.Service.StopTimeoutDuration()
	if err != nil {
		return err
	}

	svc := &service.ExecService{
		Command:     command,
		StorePath:   a.Paths().Plaintext,
		StopTimeout: stopTimeout,
		Stdin:       stdio.In,
		Stdout:      stdio.Out,
		Stderr:      stdio.Err,
		Logger:      &slogAdapter{l: a.logger},
	}
	// secure-run is self-gated; the service itself runs as serve, which
	// always requires the gate.
	return a.Execute(ctx, gate.OpSecureRun, gate.ServiceFunc(func(ctx context.Context) error {
		return a.Execute(ctx, gate.OpServe, svc)
	}))
}

// StoreStatus describes the on-disk state of the store.
type StoreStatus struct {
	EncryptedPath string
	Encrypted     bool
	PlaintextPath string
	Plaintext     bool
	Locked        bool
	Provider      string
	VaultName     string
	VaultVersion  int64
}

// Status reports the store's files and lock without reading store content.
func (a *App) Status(ctx context.Context) (*StoreStatus, error) {
	paths := a.Paths()
	st := &StoreStatus{
		EncryptedPath: paths.Encrypted,
		PlaintextPath: paths.Plaintext,
		Provider:      a.provider.Name(),
	}

	var err error
	if st.Encrypted, err = a.fsmgr.Exists(paths.Encrypted); err != nil {
		return nil, err
	}
	if st.Plaintext, err = a.fsmgr.Exists(paths.Plaintext); err != nil {
		return nil, err
	}
	if st.Locked, err = a.fsmgr.LockHeld(paths.Lock); err != nil {
		return nil, err
	}

	if a.vault != nil {
		st.VaultName = a.cfg.Vaults[0].Name
		st.VaultVersion, err = a.vault.SealedVersion(ctx, filepath.Base(paths.Encrypted))
		if err != nil {
			return nil, fmt.Errorf("reading vault version: %w", err)
		}
	}
	return st, nil
}

// ValidateVault checks that the configured vault is reachable.
func (a *App) ValidateVault(ctx context.Context) error {
	if a.vault == nil {
		return fmt.Errorf("no vaults configured")
	}
	return a.vault.ValidateSetup(ctx)
}

// PullFromVault restores the encrypted store from the vault. It refuses to
// overwrite an encrypted store that already exists. It returns the version
// that was restored.
func (a *App) PullFromVault(ctx context.Context) (int64, error) {
	if a.vault == nil {
		return 0, fmt.Errorf("no vaults configured")
	}
	paths := a.Paths()

	lock, err := a.fsmgr.Lock(paths.Lock)
	if err != nil {
		if errors.Is(err, gate.ErrLockHeld) {
			return 0, gate.StoreLocked(err)
		}
		return 0, err
	}
	defer lock.Close()

	exists, err := a.fsmgr.Exists(paths.Encrypted)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("encrypted store already exists at %s", paths.Encrypted)
	}

	name := filepath.Base(paths.Encrypted)
	version, err := a.vault.SealedVersion(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("reading vault version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("vault holds no sealed store named %s", name)
	}

	var buf bytes.Buffer
	if err := a.vault.GetSealed(ctx, name, &buf); err != nil {
		return 0, fmt.Errorf("downloading sealed store: %w", err)
	}
	if err := a.fsmgr.ReplaceAtomic(paths.Encrypted, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("writing encrypted store: %w", err)
	}

	a.logger.Info("sealed store restored from vault", "name", name, "version", version, "bytes", buf.Len())
	return version, nil
}

// Finish records the outcome of the operation for the closing log line.
func (a *App) Finish(err error) {
	a.run.Finish(err)
}

// Close releases the store lock and the passphrase and closes the log.
// It does not reseal; operations that unseal reseal before returning.
func (a *App) Close() error {
	var errs []error
	if a.gate != nil {
		errs = append(errs, a.gate.Close())
	}
	if a.passphrase != nil {
		errs = append(errs, a.passphrase.Close())
		a.passphrase = nil
	}

	a.logger.Info("run finished",
		"operation", a.run.Operation,
		"status", a.run.Status,
		"duration", a.run.Duration(a.clock.Now()).Truncate(time.Millisecond))

	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
		a.logFile = nil
	}
	return errors.Join(errs...)
}
