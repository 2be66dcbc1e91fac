package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrTokenNotFound indicates no record carries the presented token.
	ErrTokenNotFound = errors.New("token: not found")
	// ErrTokenExpired indicates the token exists but has aged out. Kept
	// distinct from ErrTokenNotFound so the HTTP boundary can answer 204
	// versus 404.
	ErrTokenExpired = errors.New("token: expired")
	// ErrEmailTaken signals a duplicate registration attempt.
	ErrEmailTaken = errors.New("user: email already registered")
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrPINNotFound covers every PIN failure: no pending association,
	// already consumed, or expired. Callers translate it to an empty
	// 422 result, not a server fault.
	ErrPINNotFound = errors.New("pin: no matching pending invitation")
	// ErrInvalidCredentials is the generic login failure; it never says
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrNotVerified is returned on login when policy requires a verified
	// email first.
	ErrNotVerified = errors.New("auth: email not verified")
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
