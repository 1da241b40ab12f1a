package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars and restore after tests
	originalEnv := map[string]string{
		"CATSYNC_APP_NAME":                os.Getenv("CATSYNC_APP_NAME"),
		"CATSYNC_APP_ENV":                 os.Getenv("CATSYNC_APP_ENV"),
		"CATSYNC_DATABASE_HOST":           os.Getenv("CATSYNC_DATABASE_HOST"),
		"CATSYNC_DATABASE_PORT":           os.Getenv("CATSYNC_DATABASE_PORT"),
		"CATSYNC_DATABASE_USER":           os.Getenv("CATSYNC_DATABASE_USER"),
		"CATSYNC_DATABASE_PASSWORD":       os.Getenv("CATSYNC_DATABASE_PASSWORD"),
		"CATSYNC_DATABASE_DBNAME":         os.Getenv("CATSYNC_DATABASE_DBNAME"),
		"CATSYNC_DATABASE_SSLMODE":        os.Getenv("CATSYNC_DATABASE_SSLMODE"),
		"CATSYNC_DATABASE_MAX_OPEN_CONNS": os.Getenv("CATSYNC_DATABASE_MAX_OPEN_CONNS"),
		"CATSYNC_DATABASE_MAX_IDLE_CONNS": os.Getenv("CATSYNC_DATABASE_MAX_IDLE_CONNS"),
		"CATSYNC_SYNC_BATCH_SIZE":         os.Getenv("CATSYNC_SYNC_BATCH_SIZE"),
		"CATSYNC_SYNC_MAX_WORKERS":        os.Getenv("CATSYNC_SYNC_MAX_WORKERS"),
		"CATSYNC_REMOTE_ENDPOINT":         os.Getenv("CATSYNC_REMOTE_ENDPOINT"),
		"CATSYNC_REMOTE_ACCESS_TOKEN":     os.Getenv("CATSYNC_REMOTE_ACCESS_TOKEN"),
		"CATSYNC_REMOTE_LOW_WATER_MARK":   os.Getenv("CATSYNC_REMOTE_LOW_WATER_MARK"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "catalogsync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 100, cfg.Sync.BatchSize)
		assert.Equal(t, 4, cfg.Sync.MaxWorkers)
		assert.Equal(t, 3, cfg.Sync.RetryAttempts)
		assert.Equal(t, time.Second, cfg.Sync.RetryDelay)
		assert.Equal(t, 300*time.Second, cfg.Sync.Timeout)
		assert.Equal(t, 10, cfg.Sync.CheckpointInterval)
		assert.Equal(t, 4, cfg.Remote.MaxConcurrent)
		assert.Equal(t, float64(100), cfg.Remote.LowWaterMark)
		assert.Equal(t, 300*time.Second, cfg.Remote.CacheTTL)
		assert.Equal(t, 1000, cfg.Remote.SubBatchCostCeiling)
	})

	t.Run("loads values from environment variables with CATSYNC prefix", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATSYNC_APP_NAME", "test-app")
		os.Setenv("CATSYNC_DATABASE_HOST", "testdb.local")
		os.Setenv("CATSYNC_DATABASE_PORT", "5433")
		os.Setenv("CATSYNC_SYNC_BATCH_SIZE", "50")
		os.Setenv("CATSYNC_SYNC_MAX_WORKERS", "5")
		os.Setenv("CATSYNC_REMOTE_LOW_WATER_MARK", "250")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, 50, cfg.Sync.BatchSize)
		assert.Equal(t, 5, cfg.Sync.MaxWorkers)
		assert.Equal(t, float64(250), cfg.Remote.LowWaterMark)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATSYNC_DATABASE_MAX_OPEN_CONNS", "10")
		os.Setenv("CATSYNC_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle_conns")
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("validates BatchSize must be positive", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATSYNC_SYNC_BATCH_SIZE", "-5")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.batch_size must be positive")
	})

	t.Run("zero MaxOpenConns uses default", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATSYNC_DATABASE_MAX_OPEN_CONNS", "0")

		cfg, err := Load()
		require.NoError(t, err)
		// 0 is treated as "not set", so default (25) is used
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	originalEnv := map[string]string{
		"CATSYNC_APP_ENV":             os.Getenv("CATSYNC_APP_ENV"),
		"CATSYNC_DATABASE_PASSWORD":   os.Getenv("CATSYNC_DATABASE_PASSWORD"),
		"CATSYNC_DATABASE_SSLMODE":    os.Getenv("CATSYNC_DATABASE_SSLMODE"),
		"CATSYNC_REMOTE_ENDPOINT":     os.Getenv("CATSYNC_REMOTE_ENDPOINT"),
		"CATSYNC_REMOTE_ACCESS_TOKEN": os.Getenv("CATSYNC_REMOTE_ACCESS_TOKEN"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	setValidProductionBase := func() {
		os.Setenv("CATSYNC_APP_ENV", "production")
		os.Setenv("CATSYNC_DATABASE_PASSWORD", "secure-password")
		os.Setenv("CATSYNC_DATABASE_SSLMODE", "require")
		os.Setenv("CATSYNC_REMOTE_ENDPOINT", "https://platform.example.com/graphql")
		os.Setenv("CATSYNC_REMOTE_ACCESS_TOKEN", "token-123")
	}

	t.Run("requires database.password in production", func(t *testing.T) {
		clearEnv()
		setValidProductionBase()
		os.Unsetenv("CATSYNC_DATABASE_PASSWORD")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.password is required in production")
	})

	t.Run("requires SSL enabled in production", func(t *testing.T) {
		clearEnv()
		setValidProductionBase()
		os.Setenv("CATSYNC_DATABASE_SSLMODE", "disable")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.sslmode cannot be 'disable' in production")
	})

	t.Run("requires remote endpoint in production", func(t *testing.T) {
		clearEnv()
		setValidProductionBase()
		os.Unsetenv("CATSYNC_REMOTE_ENDPOINT")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remote.endpoint is required in production")
	})

	t.Run("requires remote access token in production", func(t *testing.T) {
		clearEnv()
		setValidProductionBase()
		os.Unsetenv("CATSYNC_REMOTE_ACCESS_TOKEN")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remote.access_token is required in production")
	})

	t.Run("passes validation with valid production config", func(t *testing.T) {
		clearEnv()
		setValidProductionBase()

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost")
		assert.Contains(t, dsn, "5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		// URL-encoded password should be in the DSN
		assert.Contains(t, dsn, "pass%40word%23123")
	})

	t.Run("handles empty password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "",
			DBName:   "db",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.NotEmpty(t, dsn)
	})
}
