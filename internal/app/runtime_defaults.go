package app

import (
	"fmt"
	"strings"

	"github.com/nidohq/nido/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	return generated, nil
}

// DatabaseHost picks the enabled host-based database section for the
// configured driver, when one applies.
func (c *Config) DatabaseHost() (DBAuthConfig, bool) {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "postgresql":
		return c.Database.Postgres, c.Database.Postgres.Enabled
	case "mysql":
		return c.Database.MySQL, c.Database.MySQL.Enabled
	default:
		return DBAuthConfig{}, false
	}
}
