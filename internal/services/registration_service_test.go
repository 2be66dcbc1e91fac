package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nidohq/nido/internal/models"
)

func TestRegisterThenLogin(t *testing.T) {
	db := openTestDB(t)
	jwt := newTestJWT(t, time.Now)

	svc, err := NewRegistrationService(db, jwt, nil)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "Ana",
		LastName:  "Suarez",
		Email:     "Ana@Example.com",
		Password:  "hunter2hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", user.Email)
	require.False(t, user.IsVerified)
	require.NotNil(t, user.VerificationToken)

	// Unverified accounts may log in under the default policy.
	logged, signed, err := svc.Login(context.Background(), "ANA@example.com", "hunter2hunter2")
	require.NoError(t, err)
	require.Equal(t, user.ID, logged.ID)

	claims, err := jwt.VerifySession(signed)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, models.RoleRegistered, claims.Role)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Email: "dup@example.com", Password: "password123"})
	require.NoError(t, err)

	// Case differences collapse onto the same stored row.
	_, err = svc.Register(context.Background(), RegisterInput{Email: "DUP@example.com", Password: "password123"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Email: "real@example.com", Password: "password123"})
	require.NoError(t, err)

	_, _, unknownErr := svc.Login(context.Background(), "ghost@example.com", "password123")
	_, _, wrongErr := svc.Login(context.Background(), "real@example.com", "not-the-password")

	// Missing user and wrong password must be indistinguishable.
	require.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, ErrInvalidCredentials)
}

func TestLoginRequiresVerificationWhenConfigured(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil, WithRequireVerifiedLogin(true))
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{Email: "strict@example.com", Password: "password123"})
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "strict@example.com", "password123")
	require.ErrorIs(t, err, ErrNotVerified)

	_, err = svc.VerifyEmail(context.Background(), *user.VerificationToken)
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "strict@example.com", "password123")
	require.NoError(t, err)
}

func TestVerifyEmailConsumesTokenOnce(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "password123"})
	require.NoError(t, err)
	token := *user.VerificationToken

	verified, err := svc.VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	require.True(t, verified.IsVerified)
	require.Nil(t, verified.VerificationToken)

	// Second presentation of the same token must fail.
	_, err = svc.VerifyEmail(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenNotFound)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.True(t, stored.IsVerified)
	require.Nil(t, stored.VerificationToken)
}

func TestVerifyEmailConcurrentDualSubmission(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{Email: "race@x.com", Password: "password123"})
	require.NoError(t, err)
	token := *user.VerificationToken

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.VerifyEmail(context.Background(), token)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, res := range results {
		if res == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes, "exactly one of two concurrent consumptions may succeed")
}

func TestResendRotatesVerificationToken(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{Email: "rotate@x.com", Password: "password123"})
	require.NoError(t, err)
	oldToken := *user.VerificationToken

	rotated, err := svc.ResendVerification(context.Background(), "rotate@x.com")
	require.NoError(t, err)
	require.NotEqual(t, oldToken, *rotated.VerificationToken)

	// The previous token is invalidated by the rotation.
	_, err = svc.VerifyEmail(context.Background(), oldToken)
	require.ErrorIs(t, err, ErrTokenNotFound)

	_, err = svc.VerifyEmail(context.Background(), *rotated.VerificationToken)
	require.NoError(t, err)

	// Resending for a verified account is refused.
	_, err = svc.ResendVerification(context.Background(), "rotate@x.com")
	require.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestResendUnknownEmail(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	_, err = svc.ResendVerification(context.Background(), "ghost@x.com")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRegisterByPIN(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{Email: "pin@x.com", Password: "password123"})
	require.NoError(t, err)
	unit := createUnit(t, db)

	pin, err := svc.IssuePIN(context.Background(), unit.ID, user.ID)
	require.NoError(t, err)
	require.Len(t, pin, 6)

	// A wrong PIN is indistinguishable from no invitation.
	_, err = svc.RegisterByPIN(context.Background(), user.ID, "000000000")
	require.ErrorIs(t, err, ErrPINNotFound)

	assoc, err := svc.RegisterByPIN(context.Background(), user.ID, pin)
	require.NoError(t, err)
	require.True(t, assoc.Active)
	require.Nil(t, assoc.PIN)
	require.NotNil(t, assoc.FunctionalUnit)
	require.Equal(t, unit.ID, assoc.FunctionalUnit.ID)

	// Consumed PINs cannot be redeemed again.
	_, err = svc.RegisterByPIN(context.Background(), user.ID, pin)
	require.ErrorIs(t, err, ErrPINNotFound)
}

func TestRegisterByPINExpired(t *testing.T) {
	db := openTestDB(t)
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil,
		WithRegistrationClock(func() time.Time { return current }),
		WithInviteExpiry(time.Hour),
	)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterInput{Email: "pinexp@x.com", Password: "password123"})
	require.NoError(t, err)
	unit := createUnit(t, db)

	pin, err := svc.IssuePIN(context.Background(), unit.ID, user.ID)
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)

	_, err = svc.RegisterByPIN(context.Background(), user.ID, pin)
	require.ErrorIs(t, err, ErrPINNotFound)
}

func TestInvitationLookupOutcomes(t *testing.T) {
	db := openTestDB(t)
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil,
		WithRegistrationClock(func() time.Time { return current }),
	)
	require.NoError(t, err)

	unit := createUnit(t, db)
	_, token, err := svc.InviteByEmail(context.Background(), InviteInput{
		FunctionalUnitID: unit.ID,
		Email:            "invitee@x.com",
		FirstName:        "Ines",
		LastName:         "Vega",
	})
	require.NoError(t, err)

	invitation, err := svc.InvitationByToken(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "invitee@x.com", invitation.User.Email)
	require.Equal(t, unit.ID, invitation.FunctionalUnit.ID)
	require.False(t, invitation.User.HasPassword())

	// Unknown tokens and expired tokens stay distinguishable.
	_, err = svc.InvitationByToken(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrTokenNotFound)

	current = current.Add(defaultInviteExpiry + time.Minute)
	_, err = svc.InvitationByToken(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestRegisterByInvitation(t *testing.T) {
	db := openTestDB(t)
	jwt := newTestJWT(t, time.Now)
	svc, err := NewRegistrationService(db, jwt, nil)
	require.NoError(t, err)

	unit := createUnit(t, db)
	_, token, err := svc.InviteByEmail(context.Background(), InviteInput{
		FunctionalUnitID: unit.ID,
		Email:            "newcomer@x.com",
	})
	require.NoError(t, err)

	user, signed, err := svc.RegisterByInvitation(context.Background(), token, "fresh-password-1")
	require.NoError(t, err)
	require.True(t, user.Active)
	require.True(t, user.IsVerified)
	require.True(t, user.HasPassword())

	// The response token is immediately usable.
	claims, err := jwt.VerifySession(signed)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)

	// The association flipped from pending to active and dropped its token.
	var assoc models.FunctionalUnitUser
	require.NoError(t, db.First(&assoc, "user_id = ?", user.ID).Error)
	require.True(t, assoc.Active)
	require.Nil(t, assoc.InvitationToken)

	// Invitation tokens are single use.
	_, _, err = svc.RegisterByInvitation(context.Background(), token, "fresh-password-1")
	require.ErrorIs(t, err, ErrTokenNotFound)

	// And the invited user can now log in normally.
	_, _, err = svc.Login(context.Background(), "newcomer@x.com", "fresh-password-1")
	require.NoError(t, err)
}

func TestInviteByEmailRotatesPendingInvitation(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	unit := createUnit(t, db)
	_, first, err := svc.InviteByEmail(context.Background(), InviteInput{FunctionalUnitID: unit.ID, Email: "again@x.com"})
	require.NoError(t, err)

	_, second, err := svc.InviteByEmail(context.Background(), InviteInput{FunctionalUnitID: unit.ID, Email: "again@x.com"})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Only one pending association exists for the (unit, email) pair.
	var count int64
	require.NoError(t, db.Model(&models.FunctionalUnitUser{}).
		Where("functional_unit_id = ? AND active = ?", unit.ID, false).
		Count(&count).Error)
	require.EqualValues(t, 1, count)

	_, err = svc.InvitationByToken(context.Background(), first)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestInviteByEmailRejectsEstablishedAccounts(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewRegistrationService(db, newTestJWT(t, time.Now), nil)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Email: "settled@x.com", Password: "password123"})
	require.NoError(t, err)

	unit := createUnit(t, db)
	_, _, err = svc.InviteByEmail(context.Background(), InviteInput{FunctionalUnitID: unit.ID, Email: "settled@x.com"})
	require.ErrorIs(t, err, ErrEmailTaken)
}
