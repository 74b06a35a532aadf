package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Config describes the SQLite file backing the token store.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DefaultConfig suits a single CLI process sharing the file with the
// occasional second invocation.
func DefaultConfig() Config {
	return Config{
		Path:            "homepair.db",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...))
	}

	switch c.Path {
	case "":
		invalid("database path cannot be empty")
	case ":memory:":
		// Migrate reopens the path, which would yield a second, empty database.
		invalid("in-memory databases cannot be migrated, use a file")
	}
	if c.MaxOpenConns <= 0 {
		invalid("max open connections must be positive, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		invalid("max idle connections must be between 0 and %d, got %d", c.MaxOpenConns, c.MaxIdleConns)
	}
	if c.ConnMaxLifetime <= 0 {
		invalid("connection max lifetime must be positive")
	}
	if c.BusyTimeout <= 0 {
		invalid("busy timeout must be positive")
	}
	return errors.Join(errs...)
}

func (c Config) dsn() string {
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		c.Path, c.BusyTimeout.Milliseconds())
}

// OpenDatabase opens the file named by cfg and migrates it.
func OpenDatabase(cfg Config) (*SQLiteStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dsn := cfg.dsn()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewSQLiteStorage(db, dsn)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
