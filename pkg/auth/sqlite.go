package auth

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// defaultBusyTimeoutMS is the SQLite busy_timeout in milliseconds.
const defaultBusyTimeoutMS = 5000

// SQLiteSessionStore keeps sessions in a local SQLite file, letting a command
// line client stay signed in between invocations.
type SQLiteSessionStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// OpenSQLiteSessionStore opens (creating when needed) the database at path and
// applies pending migrations. ":memory:" opens a private in-memory database.
func OpenSQLiteSessionStore(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// A CLI holds one connection; this also keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeoutMS),
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}
	for _, pragma := range pragmas {
		if err := retryBusy(ctx, func() error {
			_, err := db.ExecContext(ctx, pragma)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := retryBusy(ctx, func() error { return runMigrations(ctx, db) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run session migrations: %w", err)
	}

	logger.Info().Str("path", path).Msg("Session database ready.")
	return &SQLiteSessionStore{
		db:     db,
		logger: logger.With().Str("component", "SQLiteSessionStore").Logger(),
		now:    time.Now,
	}, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	if path == ":memory:" {
		return "file::memory:"
	}
	return "file:" + filepath.ToSlash(path) + "?mode=rwc"
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	// goose names the dialect sqlite3 regardless of the registered driver.
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// retryBusy retries operation while SQLite reports lock contention.
func retryBusy(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Set stores the session for key, replacing any previous one.
func (c *SQLiteSessionStore) Set(ctx context.Context, key string, s Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session for key %s: %w", key, err)
	}
	var expiresAt sql.NullInt64
	if !s.ExpiresAt.IsZero() {
		expiresAt = sql.NullInt64{Int64: s.ExpiresAt.Unix(), Valid: true}
	}

	err = retryBusy(ctx, func() error {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO sessions (session_key, user_id, payload, expires_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_key) DO UPDATE SET
				user_id = excluded.user_id,
				payload = excluded.payload,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at`,
			key, s.UserID, string(payload), expiresAt, c.now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store session for key %s: %w", key, err)
	}
	c.logger.Debug().Str("key", key).Str("user_id", s.UserID).Msg("Stored session.")
	return nil
}

// Fetch returns the session for key.
func (c *SQLiteSessionStore) Fetch(ctx context.Context, key string) (Session, error) {
	var payload string
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE session_key = ?`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("key '%s': %w", key, ErrNoSession)
		}
		return Session{}, fmt.Errorf("failed to read session for key %s: %w", key, err)
	}
	var s Session
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session for key %s: %w", key, err)
	}
	return s, nil
}

// Delete removes the session for key.
func (c *SQLiteSessionStore) Delete(ctx context.Context, key string) error {
	err := retryBusy(ctx, func() error {
		_, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete session for key %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (c *SQLiteSessionStore) Close() error {
	return c.db.Close()
}
