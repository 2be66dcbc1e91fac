package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "nido", cfg.Auth.JWT.Issuer)
	require.Equal(t, 24*time.Hour, cfg.Auth.JWT.TTL)
	require.Equal(t, 72*time.Hour, cfg.Auth.InvitationTTL)
	require.Equal(t, time.Hour, cfg.Auth.ResetTTL)
	require.False(t, cfg.Auth.RequireVerifiedLogin)
	require.False(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, 587, cfg.Email.SMTP.Port)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("NIDO_SERVER_PORT", "9100")
	t.Setenv("NIDO_DATABASE_DRIVER", "postgres")
	t.Setenv("NIDO_AUTH_JWT_SESSION_TTL", "2h")
	t.Setenv("NIDO_AUTH_REQUIRE_VERIFIED_LOGIN", "true")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, 2*time.Hour, cfg.Auth.JWT.TTL)
	require.True(t, cfg.Auth.RequireVerifiedLogin)
}

func TestDatabaseHostSelection(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Driver = "sqlite"
	_, ok := cfg.DatabaseHost()
	require.False(t, ok)

	cfg.Database.Driver = "postgres"
	cfg.Database.Postgres = DBAuthConfig{Enabled: true, Host: "db.internal"}
	host, ok := cfg.DatabaseHost()
	require.True(t, ok)
	require.Equal(t, "db.internal", host.Host)

	cfg.Database.Driver = "mysql"
	_, ok = cfg.DatabaseHost()
	require.False(t, ok)
}
