package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Issuer:     "planfold-auth",
		Audience:   []string{"planfold-api"},
		Port:       8080,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	t.Run("rejects bad port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = 0
		require.Error(t, cfg.Validate())
		cfg.Port = 70000
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects empty issuer", func(t *testing.T) {
		cfg := validConfig()
		cfg.Issuer = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects missing audience", func(t *testing.T) {
		cfg := validConfig()
		cfg.Audience = nil
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects access lifetime outliving refresh", func(t *testing.T) {
		cfg := validConfig()
		cfg.AccessTTL = cfg.RefreshTTL
		require.Error(t, cfg.Validate())
	})
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "planfold-auth", cfg.Issuer)
	require.Equal(t, []string{"planfold-api"}, cfg.Audience)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
}
