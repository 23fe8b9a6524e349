// Package store persists operator accounts. Accounts gate dashboard access;
// each account may be bound to the WhatsApp identity it operates.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound    = errors.New("account not found")
	ErrBadPassword = errors.New("wrong password")
)

// Account is one dashboard operator.
type Account struct {
	ID             string
	Login          string
	WhatsAppUserID string
	CreatedAt      time.Time
}

// AccountStore persists operator accounts in SQLite.
type AccountStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id               TEXT PRIMARY KEY,
	login            TEXT NOT NULL UNIQUE,
	password_hash    TEXT NOT NULL,
	whatsapp_user_id TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL
);`

// Open opens (creating if needed) the account database at path.
func Open(path string) (*AccountStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open account db: %w", err)
	}
	// modernc's driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &AccountStore{db: db}, nil
}

// Close releases the underlying database.
func (s *AccountStore) Close() error { return s.db.Close() }

// Create adds an account with a bcrypt-hashed password.
func (s *AccountStore) Create(ctx context.Context, login, password string) (*Account, error) {
	if login == "" || password == "" {
		return nil, errors.New("login and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc := &Account{
		ID:        uuid.NewString(),
		Login:     login,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, login, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		acc.ID, acc.Login, string(hash), acc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return acc, nil
}

// Authenticate checks login credentials. Returns ErrNotFound for an unknown
// login and ErrBadPassword for a wrong password.
func (s *AccountStore) Authenticate(ctx context.Context, login, password string) (*Account, error) {
	var (
		acc  Account
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, login, password_hash, whatsapp_user_id, created_at FROM accounts WHERE login = ?`,
		login,
	).Scan(&acc.ID, &acc.Login, &hash, &acc.WhatsAppUserID, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrBadPassword
	}
	return &acc, nil
}

// Get returns an account by login.
func (s *AccountStore) Get(ctx context.Context, login string) (*Account, error) {
	var acc Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, login, whatsapp_user_id, created_at FROM accounts WHERE login = ?`,
		login,
	).Scan(&acc.ID, &acc.Login, &acc.WhatsAppUserID, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &acc, nil
}

// BindWhatsAppUser records which WhatsApp identity the account operates.
func (s *AccountStore) BindWhatsAppUser(ctx context.Context, login, whatsappUserID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET whatsapp_user_id = ? WHERE login = ?`,
		whatsappUserID, login,
	)
	if err != nil {
		return fmt.Errorf("bind whatsapp user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureAdmin creates the admin account if it does not exist, returning the
// generated password exactly once. An existing admin returns ("", false, nil).
func (s *AccountStore) EnsureAdmin(ctx context.Context) (password string, created bool, err error) {
	_, err = s.Get(ctx, "admin")
	if err == nil {
		return "", false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", false, err
	}

	password = uuid.NewString()
	if _, err := s.Create(ctx, "admin", password); err != nil {
		return "", false, err
	}
	return password, true, nil
}
