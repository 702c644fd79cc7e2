// gosession serves the session API and manages its database.
//
// Usage:
//
//	gosession serve [-env .env] [-bootstrap identifier:password]
//	gosession migrate [-env .env] [-direction up|down]
//	gosession create-user [-env .env] -identifier name -password secret [-email e] [-role r]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/config"
	"github.com/MrEthical07/goSession/internal/httpapi"
	"github.com/MrEthical07/goSession/internal/logger"
	"github.com/MrEthical07/goSession/internal/migrate"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/internal/users"
	"github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokenhash"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "create-user":
		err = runCreateUser(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gosession serve|migrate|create-user [flags]")
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	envFile := fs.String("env", ".env", "optional .env file")
	direction := fs.String("direction", "up", "migration direction: up or down")
	_ = fs.Parse(args)

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	switch cfg.Backend {
	case config.BackendPostgres, config.BackendMySQL:
		return migrate.Run(cfg.MigrationDSN(), dir)
	case config.BackendSQLite:
		return errors.New("sqlite schema is created by serve; nothing to migrate")
	default:
		return fmt.Errorf("backend %q has no schema", cfg.Backend)
	}
}

func runCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	envFile := fs.String("env", ".env", "optional .env file")
	identifier := fs.String("identifier", "", "login identifier")
	pass := fs.String("password", "", "password")
	email := fs.String("email", "", "email address")
	role := fs.String("role", "", "role claim")
	_ = fs.Parse(args)

	if *identifier == "" || *pass == "" {
		return errors.New("identifier and password are required")
	}
	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if !cfg.UsesSQL() {
		return fmt.Errorf("backend %q keeps users in memory; use serve -bootstrap", cfg.Backend)
	}

	ctx := context.Background()
	db, err := session.OpenSQL(ctx, cfg.Backend, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	store := users.NewSQLStore(db)
	if cfg.Backend == config.BackendSQLite {
		if err := store.CreateSQLiteSchema(ctx); err != nil {
			return err
		}
	}

	hasher, err := newPasswordHasher(cfg)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(*pass)
	if err != nil {
		return err
	}
	rec, err := store.Create(ctx, users.NewUser{Identifier: *identifier, Email: *email, Role: *role, PasswordHash: hash})
	if err != nil {
		return err
	}
	fmt.Println(rec.UserID)
	return nil
}

func newPasswordHasher(cfg *config.Config) (*password.Argon2, error) {
	p := cfg.EngineConfig().Password
	return password.NewArgon2(password.Config{
		Memory:           p.Memory,
		Time:             p.Time,
		Parallelism:      p.Parallelism,
		SaltLength:       p.SaltLength,
		KeyLength:        p.KeyLength,
		MaxPasswordBytes: p.MaxPasswordBytes,
	})
}

type userStore interface {
	goSession.UserProvider
	Create(context.Context, users.NewUser) (goSession.UserRecord, error)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	envFile := fs.String("env", ".env", "optional .env file")
	bootstrap := fs.String("bootstrap", "", "identifier:password of a user to create at start-up")
	_ = fs.Parse(args)

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := goSession.New().
		WithConfig(cfg.EngineConfig()).
		WithLogger(log).
		WithKeyProvider(tokenhash.StaticKeys(cfg.Session.HashKeys))

	var redisClient redis.UniversalClient
	if cfg.UsesRedis() {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if cfg.Backend == config.BackendRedis {
			builder.WithRedis(redisClient)
		}
	}

	var accounts userStore = users.NewMemoryStore()
	if cfg.UsesSQL() {
		db, err := openSQL(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		builder.WithSessionStore(session.NewSQLStore(db, cfg.Backend))
		accounts = users.NewSQLStore(db)
	}
	builder.WithUserProvider(accounts)

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if *bootstrap != "" {
		if err := bootstrapUser(ctx, cfg, accounts, *bootstrap); err != nil {
			return err
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.New(redisClient, rate.Config{
			Prefix:             cfg.Redis.Prefix,
			EnableIPThrottle:   true,
			MaxLoginAttempts:   cfg.RateLimit.MaxLoginAttempts,
			LoginWindow:        cfg.RateLimit.LoginWindow,
			MaxRefreshAttempts: cfg.RateLimit.MaxRefreshAttempts,
			RefreshWindow:      cfg.RateLimit.RefreshWindow,
		})
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Engine:  engine,
			Logger:  log,
			Limiter: limiter,
			Metrics: prometheus.NewPrometheusExporter(engine).Handler(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("backend", cfg.Backend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// openSQL opens the configured database. SQLite has no migrations, so its
// tables are created here.
func openSQL(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := session.OpenSQL(ctx, cfg.Backend, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if cfg.Backend == config.BackendSQLite {
		if err := session.NewSQLStore(db, cfg.Backend).CreateSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		if err := users.NewSQLStore(db).CreateSQLiteSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func bootstrapUser(ctx context.Context, cfg *config.Config, accounts userStore, credentials string) error {
	identifier, pass, ok := strings.Cut(credentials, ":")
	if !ok || identifier == "" || pass == "" {
		return errors.New("bootstrap must be identifier:password")
	}
	hasher, err := newPasswordHasher(cfg)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(pass)
	if err != nil {
		return err
	}
	_, err = accounts.Create(ctx, users.NewUser{Identifier: identifier, PasswordHash: hash})
	if errors.Is(err, users.ErrDuplicateIdentifier) {
		return nil
	}
	return err
}
