package gate

import (
	"context"
	"io"
)

// AdminChecker answers whether the store at path holds at least one
// privileged account. It is implemented by the storage layer, which owns
// any knowledge of table names. An error means "unknown" and the gate
// treats it as false.
type AdminChecker interface {
	HasAdmin(ctx context.Context, path string) (bool, error)
}

// AdminCheckerFunc adapts a function to AdminChecker.
type AdminCheckerFunc func(ctx context.Context, path string) (bool, error)

func (f AdminCheckerFunc) HasAdmin(ctx context.Context, path string) (bool, error) {
	return f(ctx, path)
}

// Service is the wrapped service: a single opaque blocking call. Run
// returns when the service stops for any reason, including ctx cancellation.
type Service interface {
	Run(ctx context.Context) error
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context) error

func (f ServiceFunc) Run(ctx context.Context) error { return f(ctx) }

// FilesystemManager abstracts the file operations the gate performs on the
// store paths.
type FilesystemManager interface {
	// Exists reports whether path exists. A missing path is not an error.
	Exists(path string) (bool, error)

	// ReadFile returns the full content of path.
	ReadFile(path string) ([]byte, error)

	// CreateExclusive writes data to a new owner-only file at path and
	// fsyncs it. It fails if path already exists.
	CreateExclusive(path string, data []byte) error

	// ReplaceAtomic replaces path with data via a synced temp file and
	// rename, so a failure never leaves path truncated.
	ReplaceAtomic(path string, data []byte) error

	// SecureErase zero-fills, syncs and removes path. Missing paths are a no-op.
	SecureErase(path string) error

	// Lock takes an exclusive, non-blocking advisory lock on path.
	// It returns an error wrapping ErrLockHeld when the lock is taken.
	Lock(path string) (io.Closer, error)
}

// Vault is an off-host mirror for sealed stores. Only ciphertext is ever
// handed to a Vault.
type Vault interface {
	// PutSealed stores size bytes read from r under name with a version marker.
	PutSealed(ctx context.Context, name string, r io.Reader, size int64, version int64) error

	// GetSealed writes the stored ciphertext for name to w.
	GetSealed(ctx context.Context, name string, w io.Writer) error

	// SealedVersion returns the stored version for name, or 0 if absent.
	SealedVersion(ctx context.Context, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible.
	ValidateSetup(ctx context.Context) error
}
