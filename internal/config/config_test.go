package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	accessSecret  = "access-secret-access-secret-0123456789"
	refreshSecret = "refresh-secret-refresh-secret-0123456789"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GOSESSION_JWT_ACCESS_SECRET", accessSecret)
	t.Setenv("GOSESSION_JWT_REFRESH_SECRET", refreshSecret)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Backend)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL)
	require.Equal(t, 168*time.Hour, cfg.JWT.RefreshTTL)
	require.Equal(t, []string{""}, cfg.Session.HashKeys)
	require.False(t, cfg.Session.AllowSessionless)
	require.False(t, cfg.UsesRedis())
	require.False(t, cfg.UsesSQL())
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "GOSESSION_BACKEND=sqlite\n" +
		"GOSESSION_DATABASE_DSN=file:test.db\n" +
		"GOSESSION_REFRESH_HASH_KEYS= primary , legacy ,\n" +
		"GOSESSION_REUSE_GRACE_PERIOD=2s\n" +
		"GOSESSION_JWT_ACCESS_SECRET=" + accessSecret + "\n" +
		"GOSESSION_JWT_REFRESH_SECRET=" + refreshSecret + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	for _, key := range []string{
		"GOSESSION_BACKEND", "GOSESSION_DATABASE_DSN", "GOSESSION_REFRESH_HASH_KEYS",
		"GOSESSION_REUSE_GRACE_PERIOD", "GOSESSION_JWT_ACCESS_SECRET", "GOSESSION_JWT_REFRESH_SECRET",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.Backend)
	require.True(t, cfg.UsesSQL())
	require.Equal(t, []string{"primary", "legacy"}, cfg.Session.HashKeys)
	require.Equal(t, 2*time.Second, cfg.Session.ReuseGracePeriod)
}

func TestLoadSingleHashKey(t *testing.T) {
	setRequired(t)
	t.Setenv("GOSESSION_REFRESH_HASH_KEY", " only-key ")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"only-key"}, cfg.Session.HashKeys)

	t.Setenv("GOSESSION_REFRESH_HASH_KEYS", "primary,legacy")
	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"primary", "legacy"}, cfg.Session.HashKeys)
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":      func(c *Config) { c.Backend = "etcd" },
		"sql without dsn":      func(c *Config) { c.Backend = BackendPostgres },
		"short access secret":  func(c *Config) { c.JWT.AccessSecret = "short" },
		"shared secrets":       func(c *Config) { c.JWT.RefreshSecret = c.JWT.AccessSecret },
		"access ttl too long":  func(c *Config) { c.JWT.AccessTTL = c.JWT.RefreshTTL },
		"bad log format":       func(c *Config) { c.Log.Format = "xml" },
		"negative grace":       func(c *Config) { c.Session.ReuseGracePeriod = -time.Second },
		"rate limit w/o redis": func(c *Config) {
			c.RateLimit.Enabled = true
			c.Redis.Addr = ""
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			cfg, err := Load("")
			require.NoError(t, err)
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestMigrationDSN(t *testing.T) {
	cfg := &Config{Backend: BackendMySQL, DatabaseDSN: "user:pw@tcp(localhost:3306)/gs"}
	require.Equal(t, "mysql://user:pw@tcp(localhost:3306)/gs", cfg.MigrationDSN())

	cfg = &Config{Backend: BackendPostgres, DatabaseDSN: "postgres://localhost/gs"}
	require.Equal(t, "postgres://localhost/gs", cfg.MigrationDSN())
}

func TestEngineConfigValidates(t *testing.T) {
	setRequired(t)
	cfg, err := Load("")
	require.NoError(t, err)

	engineCfg := cfg.EngineConfig()
	require.NoError(t, engineCfg.Validate())
	require.Equal(t, []byte(refreshSecret), engineCfg.JWT.RefreshSecret)
}
