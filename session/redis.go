package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRotated  int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusExpired  int64 = 3
	rotateStatusMismatch int64 = 4
)

// Hash fields of a session record.
const (
	fieldUserID        = "user_id"
	fieldCurrentFP     = "current_fp"
	fieldPreviousFP    = "previous_fp"
	fieldCurrentJTI    = "current_jti"
	fieldPreviousJTI   = "previous_jti"
	fieldDeviceInfo    = "device_info"
	fieldIP            = "ip"
	fieldCreatedAt     = "created_at"
	fieldLastUsedAt    = "last_used_at"
	fieldExpiresAt     = "expires_at"
	fieldRevokedAt     = "revoked_at"
	fieldRevokedReason = "revoked_reason"
)

const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

const rotateSessionScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return {0, "", "", "", "", ""}
end

local f = redis.call("HMGET", key,
  "user_id", "current_fp", "previous_fp", "current_jti", "previous_jti",
  "last_used_at", "expires_at", "revoked_at", "revoked_reason")

local user_id = f[1] or ""
local current_fp = f[2] or ""
local previous_fp = f[3] or ""
local current_jti = f[4] or ""
local previous_jti = f[5] or ""
local last_used = f[6] or ""
local expires_at = tonumber(f[7] or "0") or 0
local revoked_at = f[8] or ""
local revoked_reason = f[9] or ""

if revoked_at ~= "" then
  return {2, user_id, previous_fp, previous_jti, last_used, revoked_reason}
end

local now = tonumber(ARGV[4])
if expires_at <= now then
  return {3, user_id, previous_fp, previous_jti, last_used, ""}
end

if current_fp ~= ARGV[1] then
  return {4, user_id, previous_fp, previous_jti, last_used, ""}
end

redis.call("HSET", key,
  "previous_fp", current_fp,
  "previous_jti", current_jti,
  "current_fp", ARGV[2],
  "current_jti", ARGV[3],
  "last_used_at", ARGV[4],
  "expires_at", ARGV[5])

return {1, user_id, "", "", "", ""}
`

var rotateSessionLua = redis.NewScript(rotateSessionScript)

const revokeSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local revoked = redis.call("HGET", KEYS[1], "revoked_at")
if revoked and revoked ~= "" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "revoked_reason", ARGV[2])
return 1
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// Session keys are derived inside the script from ARGV[1], so the user's
// sessions must live on the same node as the index (single node or hash tag).
const revokeAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local changed = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 then
    local revoked = redis.call("HGET", key, "revoked_at")
    if not revoked or revoked == "" then
      redis.call("HSET", key, "revoked_at", ARGV[2], "revoked_reason", ARGV[3])
      changed = changed + 1
    end
  end
end
return changed
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// RedisStore keeps each session in a hash `<prefix>session:<id>` and indexes
// ids per user in the set `<prefix>user_sessions:<userId>`. Create, Rotate,
// Revoke and RevokeAllForUser each run as one server-side script.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore]. prefix namespaces every key and may be
// empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) sessionKeyPrefix() string {
	return s.prefix + "session:"
}

func (s *RedisStore) key(sessionID string) string {
	return s.sessionKeyPrefix() + sessionID
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user_sessions:" + userID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Create writes the session hash and indexes it under its user. A duplicate
// id yields [ErrAlreadyExists].
func (s *RedisStore) Create(ctx context.Context, p CreateParams) (*Record, error) {
	rec := p.record()

	device := ""
	if len(rec.DeviceInfo) > 0 {
		raw, err := json.Marshal(rec.DeviceInfo)
		if err != nil {
			return nil, err
		}
		device = string(raw)
	}

	args := []interface{}{
		rec.ID,
		fieldUserID, rec.UserID,
		fieldCurrentFP, rec.CurrentFingerprint,
		fieldPreviousFP, "",
		fieldCurrentJTI, rec.CurrentTokenID,
		fieldPreviousJTI, "",
		fieldDeviceInfo, device,
		fieldIP, rec.IPAddress,
		fieldCreatedAt, toMicros(rec.CreatedAt),
		fieldLastUsedAt, "",
		fieldExpiresAt, toMicros(rec.ExpiresAt),
		fieldRevokedAt, "",
		fieldRevokedReason, "",
	}

	created, err := createSessionLua.Run(ctx, s.redis, []string{s.key(rec.ID), s.userKey(rec.UserID)}, args...).Int64()
	if err != nil {
		return nil, unavailable(err)
	}
	if created == 0 {
		return nil, ErrAlreadyExists
	}
	return s.normalize(rec), nil
}

// normalize truncates timestamps to the stored precision.
func (s *RedisStore) normalize(rec *Record) *Record {
	rec.CreatedAt = fromMicros(toMicros(rec.CreatedAt))
	rec.ExpiresAt = fromMicros(toMicros(rec.ExpiresAt))
	return rec
}

// FindByID decodes the session hash or returns [ErrNotFound].
func (s *RedisStore) FindByID(ctx context.Context, id string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(id, fields)
}

// Rotate runs the compare-and-swap script. A rejected swap reports the stored
// state read by the same script.
func (s *RedisStore) Rotate(ctx context.Context, p RotateParams) (RotateOutcome, error) {
	res, err := rotateSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(p.SessionID)},
		p.IncomingFingerprint,
		p.NewFingerprint,
		p.NewTokenID,
		toMicros(p.Now),
		toMicros(p.NewExpiresAt),
	).Slice()
	if err != nil {
		return RotateOutcome{}, unavailable(err)
	}
	if len(res) < 6 {
		return RotateOutcome{}, unavailable(fmt.Errorf("unexpected rotate reply length %d", len(res)))
	}

	status, ok := res[0].(int64)
	if !ok {
		return RotateOutcome{}, unavailable(fmt.Errorf("unexpected rotate status %T", res[0]))
	}
	if status == rotateStatusNotFound {
		return RotateOutcome{}, nil
	}

	out := RotateOutcome{
		Found:               true,
		UserID:              replyString(res[1]),
		PreviousFingerprint: replyString(res[2]),
		PreviousTokenID:     replyString(res[3]),
	}
	if last := replyString(res[4]); last != "" {
		v, err := strconv.ParseInt(last, 10, 64)
		if err != nil {
			return RotateOutcome{}, unavailable(fmt.Errorf("corrupt last_used_at: %v", err))
		}
		t := fromMicros(v)
		out.LastRotatedAt = &t
	}

	switch status {
	case rotateStatusRotated:
		out.Rotated = true
	case rotateStatusRevoked:
		out.Revoked = true
		out.RevokedReason = replyString(res[5])
	case rotateStatusExpired:
		out.Expired = true
	case rotateStatusMismatch:
	default:
		return RotateOutcome{}, unavailable(fmt.Errorf("unexpected rotate status %d", status))
	}
	return out, nil
}

// Revoke marks the session revoked unless it already is.
func (s *RedisStore) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	if err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(id)}, toMicros(at), reason).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// RevokeAllForUser revokes every active session in the user index and
// returns how many changed.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	n, err := revokeAllLua.Run(
		ctx,
		s.redis,
		[]string{s.userKey(userID)},
		s.sessionKeyPrefix(),
		toMicros(at),
		reason,
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// ListForUser loads every indexed session of userID, newest first.
// Index entries whose hash is gone are skipped.
func (s *RedisStore) ListForUser(ctx context.Context, userID string) ([]*Record, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	out := make([]*Record, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, unavailable(err)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeHash(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }

func decodeHash(id string, f map[string]string) (*Record, error) {
	rec := &Record{
		ID:                  id,
		UserID:              f[fieldUserID],
		CurrentFingerprint:  f[fieldCurrentFP],
		PreviousFingerprint: f[fieldPreviousFP],
		CurrentTokenID:      f[fieldCurrentJTI],
		PreviousTokenID:     f[fieldPreviousJTI],
		IPAddress:           f[fieldIP],
		RevokedReason:       f[fieldRevokedReason],
	}

	var err error
	if rec.CreatedAt, err = parseMicros(f[fieldCreatedAt]); err != nil {
		return nil, corrupt(id, fieldCreatedAt, err)
	}
	if rec.ExpiresAt, err = parseMicros(f[fieldExpiresAt]); err != nil {
		return nil, corrupt(id, fieldExpiresAt, err)
	}
	if rec.LastUsedAt, err = parseOptionalMicros(f[fieldLastUsedAt]); err != nil {
		return nil, corrupt(id, fieldLastUsedAt, err)
	}
	if rec.RevokedAt, err = parseOptionalMicros(f[fieldRevokedAt]); err != nil {
		return nil, corrupt(id, fieldRevokedAt, err)
	}
	if raw := f[fieldDeviceInfo]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.DeviceInfo); err != nil {
			return nil, corrupt(id, fieldDeviceInfo, err)
		}
	}
	return rec, nil
}

func corrupt(id, field string, err error) error {
	return fmt.Errorf("%w: session %s has corrupt %s: %v", ErrStoreUnavailable, id, field, err)
}

func replyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v)
}

func parseMicros(s string) (time.Time, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return fromMicros(v), nil
}

func parseOptionalMicros(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseMicros(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
