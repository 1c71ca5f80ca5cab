package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// bcryptPrefix tags the hash algorithm in the password column.
const bcryptPrefix = "bcrypt$"

// ErrAccountExists is returned by CreateAdmin when the username is taken.
var ErrAccountExists = errors.New("account already exists")

// Account is a privileged account to be created in the store.
type Account struct {
	Username string
	Email    string
	Password []byte
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateAdmin inserts acct into users_user as an active superuser. The
// password is stored as a bcrypt hash. Password bytes are not retained.
func CreateAdmin(ctx context.Context, db *sql.DB, acct Account, now time.Time) error {
	username := strings.TrimSpace(acct.Username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(acct.Password) == 0 {
		return fmt.Errorf("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword(acct.Password, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users_user WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking existing account: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, username)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO users_user (username, email, password, is_superuser, is_staff, is_active, date_joined)
		VALUES (?, ?, ?, 1, 1, 1, ?)`,
		username, acct.Email, bcryptPrefix+string(hash), now.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}
