package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// SQLiteStorage handles all database operations
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage wraps an open database. path is the DSN used to open it,
// needed again by Migrate.
func NewSQLiteStorage(db *sql.DB, path string) *SQLiteStorage {
	return &SQLiteStorage{db: db, path: path}
}

// validateTokenInput checks if the token input parameters are valid
func validateTokenInput(account string, token, nonce []byte) error {
	if account == "" {
		return fmt.Errorf("%w: account cannot be empty", ErrInvalidInput)
	}
	if len(token) == 0 {
		return fmt.Errorf("%w: token cannot be empty", ErrInvalidInput)
	}
	if len(nonce) == 0 {
		return fmt.Errorf("%w: nonce cannot be empty", ErrInvalidInput)
	}
	return nil
}

// StoreToken stores or updates an encrypted token and its nonce
func (s *SQLiteStorage) StoreToken(ctx context.Context, account string, token, nonce []byte) error {
	if err := validateTokenInput(account, token, nonce); err != nil {
		return err
	}

	query := `
		INSERT INTO tokens (account, encrypted_token, nonce) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			encrypted_token = excluded.encrypted_token,
			nonce = excluded.nonce,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, account, token, nonce); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// GetToken retrieves an encrypted token and its nonce
func (s *SQLiteStorage) GetToken(ctx context.Context, account string) ([]byte, []byte, error) {
	if account == "" {
		return nil, nil, fmt.Errorf("%w: account cannot be empty", ErrInvalidInput)
	}

	var token, nonce []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT encrypted_token, nonce FROM tokens WHERE account = ?",
		account).Scan(&token, &nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: token not found for account %s", ErrNotFound, account)
		}
		return nil, nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nonce, nil
}

// DeleteToken removes a token from the database. Deleting a missing token
// is not an error.
func (s *SQLiteStorage) DeleteToken(ctx context.Context, account string) error {
	if account == "" {
		return fmt.Errorf("%w: account cannot be empty", ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE account = ?`, account); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
