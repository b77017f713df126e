package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/pkg/config"
)

type retryConfig struct {
	Attempts int           `env:"TEST_RETRY_ATTEMPTS" envDefault:"3"`
	Timeout  time.Duration `env:"TEST_RETRY_TIMEOUT" envDefault:"15m"`
}

type requiredConfig struct {
	Key string `env:"TEST_REQUIRED_KEY,required"`
}

type validatedConfig struct {
	Attempts int `env:"TEST_VALIDATED_ATTEMPTS" envDefault:"1"`
}

func (c validatedConfig) Validate() error {
	if c.Attempts < 1 {
		return errors.New("attempts must be positive")
	}
	return nil
}

type dotenvConfig struct {
	Value string `env:"TEST_DOTENV_VALUE"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config.Reset()
		os.Unsetenv("TEST_RETRY_ATTEMPTS")
		os.Unsetenv("TEST_RETRY_TIMEOUT")

		var cfg retryConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 3, cfg.Attempts)
		assert.Equal(t, 15*time.Minute, cfg.Timeout)
	})

	t.Run("cached per type", func(t *testing.T) {
		config.Reset()
		t.Setenv("TEST_RETRY_ATTEMPTS", "5")

		var first retryConfig
		require.NoError(t, config.Load(&first))

		t.Setenv("TEST_RETRY_ATTEMPTS", "9")
		var second retryConfig
		require.NoError(t, config.Load(&second))

		assert.Equal(t, 5, second.Attempts)

		config.Reset()
		var third retryConfig
		require.NoError(t, config.Load(&third))
		assert.Equal(t, 9, third.Attempts)
	})

	t.Run("required missing then fixed", func(t *testing.T) {
		config.Reset()
		os.Unsetenv("TEST_REQUIRED_KEY")

		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)

		t.Setenv("TEST_REQUIRED_KEY", "sk_test")
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "sk_test", cfg.Key)
	})

	t.Run("validation", func(t *testing.T) {
		config.Reset()
		t.Setenv("TEST_VALIDATED_ATTEMPTS", "0")

		var cfg validatedConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrInvalidConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *retryConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})

	t.Run("concurrent loads agree", func(t *testing.T) {
		config.Reset()
		t.Setenv("TEST_RETRY_ATTEMPTS", "7")

		var wg sync.WaitGroup
		results := make([]int, 20)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var cfg retryConfig
				if err := config.Load(&cfg); err == nil {
					results[i] = cfg.Attempts
				}
			}(i)
		}
		wg.Wait()

		for _, v := range results {
			assert.Equal(t, 7, v)
		}
	})
}

func TestMustLoad(t *testing.T) {
	config.Reset()
	os.Unsetenv("TEST_REQUIRED_KEY")

	var cfg requiredConfig
	assert.Panics(t, func() { config.MustLoad(&cfg) })
}

func TestLoadEnv(t *testing.T) {
	config.Reset()
	dir := t.TempDir()
	base := filepath.Join(dir, ".env")
	override := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(base, []byte("TEST_DOTENV_VALUE=base\n"), 0o600))
	require.NoError(t, os.WriteFile(override, []byte("TEST_DOTENV_VALUE=\"local\"\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TEST_DOTENV_VALUE") })

	require.NoError(t, config.LoadEnv(base, override))

	var cfg dotenvConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "local", cfg.Value)

	assert.ErrorIs(t, config.LoadEnv(filepath.Join(dir, "missing.env")), config.ErrLoadingEnvFile)
}
