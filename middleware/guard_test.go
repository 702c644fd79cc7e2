package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/users"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/tokenhash"
)

func newGuardEngine(t *testing.T) (*goSession.Engine, *goSession.TokenPair) {
	t.Helper()
	cfg := goSession.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("access-signing-key-for-guard-tests")
	cfg.JWT.RefreshSecret = []byte("refresh-signing-key-for-guard-tests")
	cfg.JWT.RefreshTTL = time.Hour
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Validation.RequireActiveSession = true

	hasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatal(err)
	}
	hash, err := hasher.Hash("alice-password-123")
	if err != nil {
		t.Fatal(err)
	}
	store := users.NewMemoryStore()
	if _, err := store.Create(context.Background(), users.NewUser{Identifier: "alice", PasswordHash: hash}); err != nil {
		t.Fatal(err)
	}

	engine, err := goSession.New().
		WithConfig(cfg).
		WithUserProvider(store).
		WithPasswordVerifier(hasher).
		WithKeyProvider(tokenhash.StaticKeys{"guard-key"}).
		WithAuditSink(goSession.NoOpSink{}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)

	pair, err := engine.Login(context.Background(), goSession.LoginInput{Identifier: "alice", Password: "alice-password-123"})
	if err != nil {
		t.Fatal(err)
	}
	return engine, pair
}

func TestGuard(t *testing.T) {
	engine, pair := newGuardEngine(t)

	var seen *goSession.AccessClaims
	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := serve(""); code != http.StatusUnauthorized {
		t.Fatalf("missing header: %d", code)
	}
	if code := serve("Basic abc"); code != http.StatusUnauthorized {
		t.Fatalf("wrong scheme: %d", code)
	}
	if code := serve("Bearer not-a-jwt"); code != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", code)
	}
	if code := serve("Bearer " + pair.AccessToken); code != http.StatusNoContent {
		t.Fatalf("valid token: %d", code)
	}
	if seen == nil || seen.UID != pair.UserID || seen.SID != pair.SessionID {
		t.Fatalf("claims = %+v", seen)
	}

	if _, err := engine.LogoutAll(context.Background(), pair.UserID); err != nil {
		t.Fatal(err)
	}
	if code := serve("Bearer " + pair.AccessToken); code != http.StatusUnauthorized {
		t.Fatalf("revoked session: %d", code)
	}
}

func TestGuardNilEngine(t *testing.T) {
	if _, status := Authenticate(context.Background(), nil, "Bearer x"); status != http.StatusUnauthorized {
		t.Fatalf("status = %d", status)
	}
}
