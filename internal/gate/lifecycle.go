package gate

import (
	"context"
	"errors"
	"fmt"
)

// Lifecycle runs an operation behind the gate: Unseal, run the wrapped
// service, and Reseal on every exit path.
type Lifecycle struct {
	gate   *Gate
	logger Logger
}

// NewLifecycle creates a Lifecycle around g.
func NewLifecycle(g *Gate, logger Logger) *Lifecycle {
	return &Lifecycle{gate: g, logger: logger}
}

// Gate returns the gate this lifecycle drives.
func (l *Lifecycle) Gate() *Gate {
	return l.gate
}

// Run unseals the store, runs svc until it returns, then reseals. Reseal
// runs whether svc returns normally, returns an error, panics, or stops
// because ctx was cancelled by an interrupt. Reseal uses a context detached
// from ctx so cancellation cannot abort cleanup.
func (l *Lifecycle) Run(ctx context.Context, svc Service) (err error) {
	if err := l.gate.Unseal(ctx); err != nil {
		return err
	}

	defer func() {
		if resealErr := l.gate.Reseal(context.WithoutCancel(ctx)); resealErr != nil {
			err = errors.Join(err, resealErr)
		}
	}()

	l.logger.Info("service starting")
	err = svc.Run(ctx)
	if ctx.Err() != nil {
		l.logger.Info("service interrupted", "cause", context.Cause(ctx))
	} else {
		l.logger.Info("service stopped")
	}
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}

// Execute classifies op against the current store and either runs svc
// directly or brackets it with Run. Self-gated operations (reseal,
// secure-run) are never bracketed: they drive the gate themselves.
func (l *Lifecycle) Execute(ctx context.Context, op Operation, svc Service) error {
	exists, err := l.gate.EncryptedStoreExists()
	if err != nil {
		return fmt.Errorf("checking encrypted store: %w", err)
	}

	decision := Classify(op, exists)
	l.logger.Info("operation classified", "operation", op.String(), "encrypted_store", exists, "decision", decision.String())

	if decision == Bypass || op.selfGated() {
		return svc.Run(ctx)
	}
	return l.Run(ctx, svc)
}
