package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported SQL dialects.
const (
	// DialectPostgres uses the pgx stdlib driver.
	DialectPostgres = "postgres"
	// DialectMySQL uses go-sql-driver/mysql.
	DialectMySQL = "mysql"
	// DialectSQLite uses the pure-Go modernc driver.
	DialectSQLite = "sqlite"
)

// ErrUnknownDialect is returned for a dialect outside the supported set.
var ErrUnknownDialect = errors.New("unknown sql dialect")

var driverNames = map[string]string{
	DialectPostgres: "pgx",
	DialectMySQL:    "mysql",
	DialectSQLite:   "sqlite",
}

// OpenSQL opens and pings a database for dialect. SQLite connections are
// limited to one so that writers serialize instead of failing with SQLITE_BUSY.
func OpenSQL(ctx context.Context, dialect, dsn string) (*sqlx.DB, error) {
	driver, ok := driverNames[dialect]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, unavailable(err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, unavailable(err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable(err)
	}
	return db, nil
}

// SQLStore persists sessions in a relational `sessions` table. Rotation is a
// conditional UPDATE whose affected-row count decides the outcome.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
}

// NewSQLStore wraps an open database. Placeholders are rebound for the
// driver db was opened with.
func NewSQLStore(db *sqlx.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// CreateSchema applies the dialect's DDL. It is safe to call repeatedly.
func (s *SQLStore) CreateSchema(ctx context.Context) error {
	stmts, ok := schemaStatements[s.dialect]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDialect, s.dialect)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

type sessionRow struct {
	ID                  string         `db:"id"`
	UserID              string         `db:"user_id"`
	CurrentFingerprint  string         `db:"current_fingerprint"`
	PreviousFingerprint string         `db:"previous_fingerprint"`
	CurrentTokenID      string         `db:"current_token_id"`
	PreviousTokenID     string         `db:"previous_token_id"`
	DeviceInfo          string         `db:"device_info"`
	IPAddress           string         `db:"ip_address"`
	CreatedAt           int64          `db:"created_at"`
	LastUsedAt          sql.NullInt64  `db:"last_used_at"`
	ExpiresAt           int64          `db:"expires_at"`
	RevokedAt           sql.NullInt64  `db:"revoked_at"`
	RevokedReason       sql.NullString `db:"revoked_reason"`
}

const selectColumns = `id, user_id, current_fingerprint, previous_fingerprint,
	current_token_id, previous_token_id, device_info, ip_address,
	created_at, last_used_at, expires_at, revoked_at, revoked_reason`

const insertSessionQuery = `INSERT INTO sessions (
	id, user_id, current_fingerprint, previous_fingerprint,
	current_token_id, previous_token_id, device_info, ip_address,
	created_at, last_used_at, expires_at, revoked_at, revoked_reason
) VALUES (?, ?, ?, '', ?, '', ?, ?, ?, NULL, ?, NULL, NULL)`

// previous_* are assigned before current_* so that MySQL, which evaluates
// SET clauses left to right, copies the old values.
const rotateSessionQuery = `UPDATE sessions SET
	previous_fingerprint = current_fingerprint,
	previous_token_id = current_token_id,
	current_fingerprint = ?,
	current_token_id = ?,
	last_used_at = ?,
	expires_at = ?
WHERE id = ? AND current_fingerprint = ? AND revoked_at IS NULL AND expires_at > ?`

const revokeSessionQuery = `UPDATE sessions SET revoked_at = ?, revoked_reason = ?
WHERE id = ? AND revoked_at IS NULL`

const revokeUserSessionsQuery = `UPDATE sessions SET revoked_at = ?, revoked_reason = ?
WHERE user_id = ? AND revoked_at IS NULL`

// Create inserts a new session row. A duplicate id yields [ErrAlreadyExists].
func (s *SQLStore) Create(ctx context.Context, p CreateParams) (*Record, error) {
	rec := p.record()

	device := ""
	if len(rec.DeviceInfo) > 0 {
		raw, err := json.Marshal(rec.DeviceInfo)
		if err != nil {
			return nil, err
		}
		device = string(raw)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.GetContext(ctx, &existing, s.db.Rebind(`SELECT COUNT(*) FROM sessions WHERE id = ?`), rec.ID); err != nil {
		return nil, unavailable(err)
	}
	if existing > 0 {
		return nil, ErrAlreadyExists
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(insertSessionQuery),
		rec.ID,
		rec.UserID,
		rec.CurrentFingerprint,
		rec.CurrentTokenID,
		device,
		rec.IPAddress,
		toMicros(rec.CreatedAt),
		toMicros(rec.ExpiresAt),
	)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err)
	}

	rec.CreatedAt = fromMicros(toMicros(rec.CreatedAt))
	rec.ExpiresAt = fromMicros(toMicros(rec.ExpiresAt))
	return rec, nil
}

// FindByID returns the session row or [ErrNotFound].
func (s *SQLStore) FindByID(ctx context.Context, id string) (*Record, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+selectColumns+` FROM sessions WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return row.record()
}

// Rotate swaps fingerprints with a conditional UPDATE and reads the owner in
// the same transaction. On a rejected swap the row is re-read outside the
// transaction to report why.
func (s *SQLStore) Rotate(ctx context.Context, p RotateParams) (RotateOutcome, error) {
	now := toMicros(p.Now)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return RotateOutcome{}, unavailable(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.Rebind(rotateSessionQuery),
		p.NewFingerprint,
		p.NewTokenID,
		now,
		toMicros(p.NewExpiresAt),
		p.SessionID,
		p.IncomingFingerprint,
		now,
	)
	if err != nil {
		return RotateOutcome{}, unavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return RotateOutcome{}, unavailable(err)
	}

	if affected == 1 {
		var userID string
		if err := tx.GetContext(ctx, &userID, s.db.Rebind(`SELECT user_id FROM sessions WHERE id = ?`), p.SessionID); err != nil {
			return RotateOutcome{}, unavailable(err)
		}
		if err := tx.Commit(); err != nil {
			return RotateOutcome{}, unavailable(err)
		}
		return RotateOutcome{Rotated: true, Found: true, UserID: userID}, nil
	}

	// SQLite runs on a single connection; release it before re-reading.
	if err := tx.Rollback(); err != nil {
		return RotateOutcome{}, unavailable(err)
	}
	rec, err := s.FindByID(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RotateOutcome{}, nil
		}
		return RotateOutcome{}, err
	}
	return outcomeFrom(rec, fromMicros(now)), nil
}

// Revoke sets revoked_at and revoked_reason unless the row is already revoked.
func (s *SQLStore) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(revokeSessionQuery), toMicros(at), reason, id); err != nil {
		return unavailable(err)
	}
	return nil
}

// RevokeAllForUser revokes every active row of userID in one statement and
// returns the affected row count.
func (s *SQLStore) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(revokeUserSessionsQuery), toMicros(at), reason, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// ListForUser returns the user's sessions, newest first.
func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]*Record, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+selectColumns+`
FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (r *sessionRow) record() (*Record, error) {
	rec := &Record{
		ID:                  r.ID,
		UserID:              r.UserID,
		CurrentFingerprint:  r.CurrentFingerprint,
		PreviousFingerprint: r.PreviousFingerprint,
		CurrentTokenID:      r.CurrentTokenID,
		PreviousTokenID:     r.PreviousTokenID,
		IPAddress:           r.IPAddress,
		CreatedAt:           fromMicros(r.CreatedAt),
		ExpiresAt:           fromMicros(r.ExpiresAt),
		RevokedReason:       r.RevokedReason.String,
	}
	if r.LastUsedAt.Valid {
		t := fromMicros(r.LastUsedAt.Int64)
		rec.LastUsedAt = &t
	}
	if r.RevokedAt.Valid {
		t := fromMicros(r.RevokedAt.Int64)
		rec.RevokedAt = &t
	}
	if r.DeviceInfo != "" {
		if err := json.Unmarshal([]byte(r.DeviceInfo), &rec.DeviceInfo); err != nil {
			return nil, corrupt(r.ID, "device_info", err)
		}
	}
	return rec, nil
}
