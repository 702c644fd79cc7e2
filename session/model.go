package session

import "time"

// Record is one authenticated client instance. Fingerprints are keyed hashes
// of raw refresh tokens; the raw tokens are never stored.
type Record struct {
	ID     string
	UserID string

	CurrentFingerprint  string
	PreviousFingerprint string
	CurrentTokenID      string
	PreviousTokenID     string

	DeviceInfo map[string]string
	IPAddress  string

	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time

	RevokedAt     *time.Time
	RevokedReason string
}

// Revoked reports whether the record reached its terminal state.
func (r *Record) Revoked() bool {
	return r != nil && r.RevokedAt != nil
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return r != nil && !now.Before(r.ExpiresAt)
}

// Active reports whether the record can still rotate at now.
func (r *Record) Active(now time.Time) bool {
	return r != nil && !r.Revoked() && !r.Expired(now)
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.DeviceInfo != nil {
		out.DeviceInfo = make(map[string]string, len(r.DeviceInfo))
		for k, v := range r.DeviceInfo {
			out.DeviceInfo[k] = v
		}
	}
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		out.LastUsedAt = &t
	}
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

// CreateParams describes a new session.
type CreateParams struct {
	ID          string
	UserID      string
	Fingerprint string
	TokenID     string
	DeviceInfo  map[string]string
	IPAddress   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (p CreateParams) record() *Record {
	rec := &Record{
		ID:                 p.ID,
		UserID:             p.UserID,
		CurrentFingerprint: p.Fingerprint,
		CurrentTokenID:     p.TokenID,
		IPAddress:          p.IPAddress,
		CreatedAt:          p.CreatedAt,
		ExpiresAt:          p.ExpiresAt,
	}
	if len(p.DeviceInfo) > 0 {
		rec.DeviceInfo = make(map[string]string, len(p.DeviceInfo))
		for k, v := range p.DeviceInfo {
			rec.DeviceInfo[k] = v
		}
	}
	return rec
}

// RotateParams is the input of the compare-and-swap rotation.
type RotateParams struct {
	SessionID           string
	IncomingFingerprint string
	NewFingerprint      string
	NewTokenID          string
	NewExpiresAt        time.Time
	// Now is the rotation instant. It is compared against the stored expiry
	// and becomes LastUsedAt on success.
	Now time.Time
}

// RotateOutcome is the linearized result of one Rotate call.
//
// UserID is set whenever the session exists. When Rotated is false the
// previous fingerprint, previous token id and time of the last successful
// rotation are reported as stored, including for revoked sessions.
type RotateOutcome struct {
	Rotated bool
	Found   bool
	UserID  string

	Revoked       bool
	RevokedReason string
	Expired       bool

	PreviousFingerprint string
	PreviousTokenID     string
	LastRotatedAt       *time.Time
}

func outcomeFrom(rec *Record, now time.Time) RotateOutcome {
	if rec == nil {
		return RotateOutcome{}
	}
	out := RotateOutcome{
		Found:               true,
		UserID:              rec.UserID,
		Revoked:             rec.Revoked(),
		RevokedReason:       rec.RevokedReason,
		Expired:             rec.Expired(now),
		PreviousFingerprint: rec.PreviousFingerprint,
		PreviousTokenID:     rec.PreviousTokenID,
	}
	if rec.LastUsedAt != nil {
		t := *rec.LastUsedAt
		out.LastRotatedAt = &t
	}
	return out
}
