package gate

import (
	"errors"
	"fmt"
)

// Exit codes returned by the top-level dispatcher.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// Kind classifies a gate failure.
type Kind string

const (
	KindConfiguration   Kind = "CONFIGURATION_ERROR"
	KindResourceMissing Kind = "RESOURCE_MISSING"
	KindAuthorization   Kind = "AUTHORIZATION_FAILURE"
	KindCryptoProvider  Kind = "CRYPTO_PROVIDER_ERROR"
	KindStalePlaintext  Kind = "STALE_PLAINTEXT"
	KindStoreLocked     Kind = "STORE_LOCKED"
	KindResealFailure   Kind = "RESEAL_FAILURE"
)

// Error is a fatal gate failure. It carries the operator-facing message,
// an optional remediation hint and the process exit code.
type Error struct {
	Kind     Kind
	Message  string
	Hint     string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the Err* sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrResourceMissing = &Error{Kind: KindResourceMissing}
	ErrAuthorization   = &Error{Kind: KindAuthorization}
	ErrCryptoProvider  = &Error{Kind: KindCryptoProvider}
	ErrStalePlaintext  = &Error{Kind: KindStalePlaintext}
	ErrStoreLocked     = &Error{Kind: KindStoreLocked}
	ErrResealFailure   = &Error{Kind: KindResealFailure}
)

// ErrLockHeld is returned by FilesystemManager.Lock when another process
// holds the store lock.
var ErrLockHeld = errors.New("store lock held by another process")

func missingPassphrase(envName string) *Error {
	hint := "Export the store passphrase before starting"
	if envName != "" {
		hint = fmt.Sprintf("Export %s before starting", envName)
	}
	return &Error{
		Kind:     KindConfiguration,
		Message:  "store passphrase is not set, refusing to start",
		Hint:     hint,
		ExitCode: ExitFailure,
	}
}

func encryptedStoreMissing(path string) *Error {
	return &Error{
		Kind:     KindResourceMissing,
		Message:  fmt.Sprintf("encrypted store not found at %s", path),
		Hint:     "Run 'sealgate migrate', 'sealgate createadmin' and 'sealgate reseal' to initialize the store",
		ExitCode: ExitFailure,
	}
}

// authorizationFailed deliberately does not say whether the passphrase was
// wrong or the store has no administrator.
func authorizationFailed(err error) *Error {
	return &Error{
		Kind:     KindAuthorization,
		Message:  "no administrator found or wrong passphrase, refusing to start",
		ExitCode: ExitFailure,
		Err:      err,
	}
}

func cryptoProviderFailed(err error) *Error {
	return &Error{
		Kind:     KindCryptoProvider,
		Message:  "cryptographic provider unavailable",
		Hint:     "Check the [encryption] section of the config file",
		ExitCode: ExitFailure,
		Err:      err,
	}
}

func stalePlaintext(path string) *Error {
	return &Error{
		Kind:     KindStalePlaintext,
		Message:  fmt.Sprintf("plaintext store already present at %s", path),
		Hint:     "A previous run did not reseal. Run 'sealgate reseal' to seal it",
		ExitCode: ExitFailure,
	}
}

// StoreLocked reports that another process holds the store lock.
func StoreLocked(err error) *Error {
	return &Error{
		Kind:     KindStoreLocked,
		Message:  "store is in use by another sealgate process",
		ExitCode: ExitFailure,
		Err:      err,
	}
}

func resealFailed(err error) *Error {
	return &Error{
		Kind:     KindResealFailure,
		Message:  "failed to reseal store, plaintext retained",
		Hint:     "Fix the cause and run 'sealgate reseal'",
		ExitCode: ExitFailure,
		Err:      err,
	}
}

// exitCoder is implemented by errors that know their process exit status.
type exitCoder interface {
	ExitCode() int
}

// ExitCode maps an error returned by the gate, lifecycle or wrapped service
// to a process exit status. It is the only place exit codes are decided.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var gateErr *Error
	if errors.As(err, &gateErr) && gateErr.ExitCode != 0 {
		return gateErr.ExitCode
	}
	var coder exitCoder
	if errors.As(err, &coder) && coder.ExitCode() != 0 {
		return coder.ExitCode()
	}
	return ExitFailure
}

// Hint returns the remediation hint carried by err, if any.
func Hint(err error) string {
	var gateErr *Error
	if errors.As(err, &gateErr) {
		return gateErr.Hint
	}
	return ""
}
