package session

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionColumns = []string{
	"id", "user_id", "current_fingerprint", "previous_fingerprint",
	"current_token_id", "previous_token_id", "device_info", "ip_address",
	"created_at", "last_used_at", "expires_at", "revoked_at", "revoked_reason",
}

func newMockSQLStore(t *testing.T, driver string) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(sqlx.NewDb(db, driver), DialectPostgres), mock
}

func TestSQLRotateSuccess(t *testing.T) {
	store, mock := newMockSQLStore(t, "sqlmock")
	now := baseTime
	exp := now.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET")).
		WithArgs("fp1", "jti1", now.UnixMicro(), exp.UnixMicro(), "s1", "fp0", now.UnixMicro()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM sessions WHERE id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectCommit()

	out, err := store.Rotate(context.Background(), RotateParams{
		SessionID:           "s1",
		IncomingFingerprint: "fp0",
		NewFingerprint:      "fp1",
		NewTokenID:          "jti1",
		NewExpiresAt:        exp,
		Now:                 now,
	})
	require.NoError(t, err)
	assert.True(t, out.Rotated)
	assert.Equal(t, "u1", out.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRotateMismatchRereadsDiagnostics(t *testing.T) {
	store, mock := newMockSQLStore(t, "sqlmock")
	now := baseTime.Add(time.Minute)
	last := baseTime

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(
			"s1", "u1", "fp1", "fp0", "j1", "j0", "", "",
			baseTime.Add(-time.Hour).UnixMicro(), last.UnixMicro(), baseTime.Add(time.Hour).UnixMicro(), nil, nil,
		))

	out, err := store.Rotate(context.Background(), RotateParams{
		SessionID:           "s1",
		IncomingFingerprint: "fp0",
		NewFingerprint:      "fp2",
		NewExpiresAt:        now.Add(time.Hour),
		Now:                 now,
	})
	require.NoError(t, err)
	assert.False(t, out.Rotated)
	assert.True(t, out.Found)
	assert.Equal(t, "u1", out.UserID)
	assert.Equal(t, "fp0", out.PreviousFingerprint)
	assert.Equal(t, "j0", out.PreviousTokenID)
	require.NotNil(t, out.LastRotatedAt)
	assert.True(t, out.LastRotatedAt.Equal(last))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRotateMissingSession(t *testing.T) {
	store, mock := newMockSQLStore(t, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	out, err := store.Rotate(context.Background(), RotateParams{SessionID: "s1", Now: baseTime})
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Empty(t, out.UserID)
}

func TestSQLRotateFailureIsStoreUnavailable(t *testing.T) {
	store, mock := newMockSQLStore(t, "sqlmock")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Rotate(context.Background(), RotateParams{SessionID: "s1", Now: baseTime})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRotateOwnerReadFailureRollsBack(t *testing.T) {
	store, mock := newMockSQLStore(t, "sqlmock")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM sessions WHERE id = ?")).
		WithArgs("s1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	out, err := store.Rotate(context.Background(), RotateParams{SessionID: "s1", IncomingFingerprint: "fp0", NewFingerprint: "fp1", Now: baseTime})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, out.Rotated)
	assert.Empty(t, out.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRevokeAllReturnsAffectedRows(t *testing.T) {
	store, mock := newMockSQLStore(t, "sqlmock")
	at := baseTime

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET revoked_at = ?, revoked_reason = ?\nWHERE user_id = ? AND revoked_at IS NULL")).
		WithArgs(at.UnixMicro(), ReasonTokenReuse, "u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.RevokeAllForUser(context.Background(), "u1", ReasonTokenReuse, at)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRevokeGuardsAlreadyRevoked(t *testing.T) {
	store, mock := newMockSQLStore(t, "sqlmock")
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND revoked_at IS NULL")).
		WithArgs(baseTime.UnixMicro(), ReasonLogout, "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Revoke(context.Background(), "s1", ReasonLogout, baseTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLFindByIDRebindsForPostgres(t *testing.T) {
	store, mock := newMockSQLStore(t, "pgx")
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	_, err := store.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCreateRejectsDuplicate(t *testing.T) {
	store, mock := newMockSQLStore(t, "sqlmock")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sessions WHERE id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), CreateParams{ID: "s1", UserID: "u1", CreatedAt: baseTime, ExpiresAt: baseTime})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
