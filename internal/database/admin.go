package database

import (
	"context"
	"errors"
	"fmt"

	"sealgate/internal/gate"
)

// Privileged-account tables, newest schema first. The legacy name is what
// stores created before the users app was split out still carry.
const (
	PrimaryUserTable = "users_user"
	LegacyUserTable  = "auth_user"
)

// AdminChecker answers whether a SQLite store holds at least one superuser
// (a row with is_superuser = 1; is_active is not consulted). It is the storage layer's implementation of gate.AdminChecker.
type AdminChecker struct {
	tables []string
}

var _ gate.AdminChecker = (*AdminChecker)(nil)

// NewAdminChecker creates an AdminChecker querying the primary table, then
// the legacy one.
func NewAdminChecker() *AdminChecker {
	return &AdminChecker{tables: []string{PrimaryUserTable, LegacyUserTable}}
}

// HasAdmin opens path read-only and counts superusers. A table that cannot
// be queried (missing, or the file is not a database at all) moves on to
// the next table; only a successful query decides the answer. If no table
// can be queried the result is false together with the joined errors, so
// the caller fails closed.
func (c *AdminChecker) HasAdmin(ctx context.Context, path string) (bool, error) {
	db, err := OpenReadOnly(path)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var errs []error
	for _, table := range c.tables {
		n, err := countSuperusers(ctx, db, table)
		if err != nil {
			errs = append(errs, fmt.Errorf("querying %s: %w", table, err))
			continue
		}
		return n > 0, nil
	}
	return false, errors.Join(errs...)
}

func countSuperusers(ctx context.Context, db queryer, table string) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE is_superuser = 1`, table)
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
