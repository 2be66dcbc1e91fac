package auth

import (
	"time"

	"github.com/nidohq/nido/pkg/crypto"
)

// One-time tokens are opaque random strings compared against the stored
// column value, never decoded. Revocation is a single store write: clear
// the column.

const defaultOneTimeBytes = 48

// OneTimeStatus is the outcome of presenting a one-time token.
type OneTimeStatus int

const (
	OneTimeValid OneTimeStatus = iota
	OneTimeExpired
	OneTimeMismatch
)

// NewOneTimeToken mints a cryptographically random opaque token.
func NewOneTimeToken() (string, error) {
	return crypto.GenerateToken(defaultOneTimeBytes)
}

// CheckOneTime compares a presented token against the stored value and
// expiry. A nil expiry means the token does not age out (the verification
// token family). Comparison is constant-time-safe.
func CheckOneTime(presented string, stored *string, expiresAt *time.Time, now time.Time) OneTimeStatus {
	if stored == nil || *stored == "" || presented == "" {
		return OneTimeMismatch
	}
	if !crypto.TokensEqual(presented, *stored) {
		return OneTimeMismatch
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return OneTimeExpired
	}
	return OneTimeValid
}
