package goSession

import (
	"errors"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokenhash"
	"github.com/MrEthical07/goSession/tokenstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine].
//
// Builder instances are intended to be configured during initialization and
// then discarded; Build may be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store      session.Store
	tokenStore tokenstore.Store
	keys       tokenhash.KeyProvider

	userProvider UserProvider
	passwords    PasswordVerifier
	auditSink    AuditSink
	logger       *zap.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder with default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs sessions and fallback tokens with Redis unless explicit
// stores are supplied.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionStore sets the session backend.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithTokenStore sets the fallback token backend.
func (b *Builder) WithTokenStore(store tokenstore.Store) *Builder {
	b.tokenStore = store
	return b
}

// WithKeyProvider sets the HMAC key list used for refresh-token fingerprints.
func (b *Builder) WithKeyProvider(keys tokenhash.KeyProvider) *Builder {
	b.keys = keys
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithPasswordVerifier overrides the Argon2id verifier built from Config.Password.
func (b *Builder) WithPasswordVerifier(v PasswordVerifier) *Builder {
	b.passwords = v
	return b
}

// WithAuditSink sets the sink for audit events. Without one, events are
// written through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.keys == nil {
		return nil, errors.New("key provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- FINGERPRINTS --------
	hasher := tokenhash.New(b.keys)
	if _, err := hasher.Hash("key-check"); err != nil {
		return nil, err
	}
	if hasher.Degraded() {
		logger.Warn("refresh token hash key is empty; fingerprints are unkeyed")
	}

	// -------- STORES --------
	store := b.store
	if store == nil {
		if b.redis != nil {
			store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
		} else {
			logger.Warn("no session store configured; using in-memory store")
			store = session.NewMemoryStore()
		}
	}
	tokens := b.tokenStore
	if tokens == nil {
		if b.redis != nil {
			tokens = tokenstore.NewRedisStore(b.redis, cfg.Refresh.TokenStorePrefix, now)
		} else {
			tokens = tokenstore.NewMemoryStore(now)
		}
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewZapSink(logger.Named("audit"))
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		RefreshSecret: cloneBytes(cfg.JWT.RefreshSecret),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	verifier := b.passwords
	if verifier == nil {
		ph, err := password.NewArgon2(password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
		})
		if err != nil {
			return nil, err
		}
		verifier = ph
	}

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		now:          now,
		store:        store,
		jwtManager:   jm,
		userProvider: b.userProvider,
		passwords:    verifier,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink),
		metrics: NewMetrics(cfg.Metrics),
	}
	engine.sessions = session.NewManager(store, hasher, sink, logger, session.ManagerConfig{
		ReuseGracePeriod: cfg.Session.ReuseGracePeriod,
		Now:              now,
		TokenID:          jwt.TokenID,
	})
	engine.tokens = tokenstore.NewRegistry(tokens, hasher, now)
	engine.dummyHash = dummyHash(verifier)
	engine.flows = flows.New(engine.flowDeps())

	b.built = true

	return engine, nil
}

// dummyHash gives unknown identifiers the same verification cost as known ones.
func dummyHash(v PasswordVerifier) string {
	type hasher interface {
		Hash(string) (string, error)
	}
	h, ok := v.(hasher)
	if !ok {
		return ""
	}
	out, err := h.Hash("goSession-dummy-password")
	if err != nil {
		return ""
	}
	return out
}
