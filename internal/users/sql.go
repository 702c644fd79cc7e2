package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	"github.com/jmoiron/sqlx"
)

// SQLite has no migration set; the table is created in place.
const sqliteUsersTable = `CREATE TABLE IF NOT EXISTS users (
	id            TEXT    PRIMARY KEY,
	identifier    TEXT    NOT NULL UNIQUE,
	email         TEXT    NOT NULL DEFAULT '',
	role          TEXT    NOT NULL DEFAULT '',
	password_hash TEXT    NOT NULL,
	disabled      INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT    NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

type userRow struct {
	ID           string `db:"id"`
	Identifier   string `db:"identifier"`
	Email        string `db:"email"`
	Role         string `db:"role"`
	PasswordHash string `db:"password_hash"`
	Disabled     bool   `db:"disabled"`
}

func (r userRow) record() goSession.UserRecord {
	return goSession.UserRecord{
		UserID:       r.ID,
		Identifier:   r.Identifier,
		Email:        r.Email,
		Role:         r.Role,
		PasswordHash: r.PasswordHash,
		Disabled:     r.Disabled,
	}
}

// SQLStore reads accounts from the `users` table.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreateSQLiteSchema creates the users table for the sqlite backend.
func (s *SQLStore) CreateSQLiteSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, identifier, email, role, password_hash, disabled FROM users`

func (s *SQLStore) GetUserByIdentifier(ctx context.Context, identifier string) (goSession.UserRecord, error) {
	return s.get(ctx, selectUser+` WHERE identifier = ?`, normalizeIdentifier(identifier))
}

func (s *SQLStore) GetUserByID(ctx context.Context, userID string) (goSession.UserRecord, error) {
	return s.get(ctx, selectUser+` WHERE id = ?`, userID)
}

func (s *SQLStore) get(ctx context.Context, query string, arg string) (goSession.UserRecord, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goSession.UserRecord{}, goSession.ErrUserNotFound
		}
		return goSession.UserRecord{}, fmt.Errorf("find user: %w", err)
	}
	return row.record(), nil
}

func (s *SQLStore) Create(ctx context.Context, in NewUser) (goSession.UserRecord, error) {
	rec := in.record()
	const query = `INSERT INTO users (id, identifier, email, role, password_hash, disabled) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		rec.UserID, rec.Identifier, rec.Email, rec.Role, rec.PasswordHash, false)
	if err != nil {
		if isUniqueViolation(err) {
			return goSession.UserRecord{}, ErrDuplicateIdentifier
		}
		return goSession.UserRecord{}, fmt.Errorf("create user: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) SetDisabled(ctx context.Context, userID string, disabled bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET disabled = ? WHERE id = ?`), disabled, userID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return goSession.ErrUserNotFound
	}
	return nil
}

// isUniqueViolation matches the duplicate-key messages of the three drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
