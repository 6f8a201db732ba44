package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite" // Pure-Go SQLite driver.
	sqlite3 "modernc.org/sqlite/lib"
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT UNIQUE NOT NULL,
		display_name  TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		last_login    TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS verifying_keys (
		fingerprint TEXT PRIMARY KEY,
		public_key  TEXT UNIQUE NOT NULL,
		label       TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	)`,
}

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Users ---

const userColumns = `id, username, display_name, password_hash, created_at, updated_at, last_login`

func (s *SQLiteStore) CreateUser(ctx context.Context, u *UserRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res, "user", id)
}

func (s *SQLiteStore) UpdateLastLogin(ctx context.Context, id string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`, formatTime(t), id)
	return err
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var users []*UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*UserRecord, error) {
	var u UserRecord
	var created, updated string
	var lastLogin sql.NullString
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &created, &updated, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	if lastLogin.Valid {
		t := parseTime(lastLogin.String)
		u.LastLogin = &t
	}
	return &u, nil
}

// --- Verifying keys ---

// SaveVerifyingKey inserts k, or updates the label of an existing key
// with the same fingerprint.
func (s *SQLiteStore) SaveVerifyingKey(ctx context.Context, k *VerifyingKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifying_keys (fingerprint, public_key, label, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET label = excluded.label`,
		k.Fingerprint, k.PublicKey, k.Label, formatTime(k.CreatedAt))
	return err
}

func (s *SQLiteStore) GetVerifyingKey(ctx context.Context, fingerprint string) (*VerifyingKey, error) {
	var k VerifyingKey
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, public_key, label, created_at FROM verifying_keys WHERE fingerprint = ?`, fingerprint).
		Scan(&k.Fingerprint, &k.PublicKey, &k.Label, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	k.CreatedAt = parseTime(created)
	return &k, nil
}

func (s *SQLiteStore) ListVerifyingKeys(ctx context.Context) ([]*VerifyingKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, public_key, label, created_at FROM verifying_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var keys []*VerifyingKey
	for rows.Next() {
		var k VerifyingKey
		var created string
		if err := rows.Scan(&k.Fingerprint, &k.PublicKey, &k.Label, &created); err != nil {
			return nil, err
		}
		k.CreatedAt = parseTime(created)
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) DeleteVerifyingKey(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM verifying_keys WHERE fingerprint = ?`, fingerprint)
	return err
}

// --- helpers ---

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
