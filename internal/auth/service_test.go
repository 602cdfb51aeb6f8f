package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/session"
	"github.com/beaconhq/beacon-auth/internal/user"
)

func TestLoginHappyPath(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	res := f.login(t, "ada@example.com")
	assert.Equal(t, u.ID, res.User.ID)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
	assert.Equal(t, "Bearer", res.Tokens.TokenType)
	assert.False(t, res.MustChangePassword)
	assert.False(t, res.RequiresTwoFactor)

	state, err := f.users.SecurityState(ctx, u.ID)
	assert.NoError(t, err)
	assert.NotNil(t, state.LastLoginAt)
	assert.Equal(t, 0, state.FailedLoginAttempts)

	validated, sess, err := f.svc.ValidateAccessToken(ctx, res.Tokens.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, u.ID, validated.ID)
	assert.Equal(t, res.Session.ID, sess.ID)
}

func TestLoginNormalizesEmail(t *testing.T) {
	f := newFixture(t)
	f.newUser(t, "ada@example.com", user.StatusActive)

	f.login(t, "  ADA@Example.COM ")
}

func TestLoginUnknownEmailIsGeneric(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "nobody@example.com",
		Password: testPassword,
	}, session.DeviceInfo{})
	assert.True(t, autherr.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "invalid email or password")
}

func TestLoginInactiveAccountIsGeneric(t *testing.T) {
	f := newFixture(t)
	f.newUser(t, "ada@example.com", user.StatusSuspended)

	_, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "ada@example.com",
		Password: testPassword,
	}, session.DeviceInfo{})
	assert.True(t, autherr.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "invalid email or password")
}

func TestLoginWrongPasswordTracksFailure(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginRequest{
		Email:    "ada@example.com",
		Password: "wrong",
	}, session.DeviceInfo{})
	assert.True(t, autherr.IsUnauthorized(err))

	state, err := f.users.SecurityState(ctx, u.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, state.FailedLoginAttempts)
	assert.Nil(t, state.LockedUntil)
}

func TestFourFailuresThenSuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.svc.Login(ctx, LoginRequest{
			Email:    "ada@example.com",
			Password: "wrong",
		}, session.DeviceInfo{})
		assert.True(t, autherr.IsUnauthorized(err))
	}

	state, err := f.users.SecurityState(ctx, u.ID)
	assert.NoError(t, err)
	assert.Equal(t, 4, state.FailedLoginAttempts)
	assert.Nil(t, state.LockedUntil)

	f.login(t, "ada@example.com")

	state, err = f.users.SecurityState(ctx, u.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, state.FailedLoginAttempts)
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, LoginRequest{
			Email:    "ada@example.com",
			Password: "wrong",
		}, session.DeviceInfo{})
		assert.True(t, autherr.IsUnauthorized(err))
	}

	state, err := f.users.SecurityState(ctx, u.ID)
	assert.NoError(t, err)
	assert.NotNil(t, state.LockedUntil)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *state.LockedUntil, 5*time.Second)

	// The correct password is rejected while the lock holds.
	_, err = f.svc.Login(ctx, LoginRequest{
		Email:    "ada@example.com",
		Password: testPassword,
	}, session.DeviceInfo{})
	assert.True(t, autherr.IsForbidden(err))
	assert.Contains(t, err.Error(), "locked")
}

func TestLoginExpiredCredentialForcesReset(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	cred, err := f.users.LatestCredential(ctx, u.ID)
	assert.NoError(t, err)
	assert.NoError(t, f.users.InsertCredential(ctx, &user.Credential{
		UserID:       u.ID,
		PasswordHash: cred.PasswordHash,
		ExpiresAt:    &expired,
		CreatedAt:    time.Now().Add(time.Second),
	}))

	_, err = f.svc.Login(ctx, LoginRequest{
		Email:    "ada@example.com",
		Password: testPassword,
	}, session.DeviceInfo{})
	assert.True(t, autherr.IsForbidden(err))
	assert.Contains(t, err.Error(), "expired")
}

func TestLoginMustChangeAdvisory(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	cred, err := f.users.LatestCredential(ctx, u.ID)
	assert.NoError(t, err)
	assert.NoError(t, f.users.InsertCredential(ctx, &user.Credential{
		UserID:       u.ID,
		PasswordHash: cred.PasswordHash,
		MustChange:   true,
		CreatedAt:    time.Now().Add(time.Second),
	}))

	res := f.login(t, "ada@example.com")
	assert.True(t, res.MustChangePassword)
}

func TestLoginReportsTwoFactorRequirement(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)

	secretID := "2fa-1"
	assert.NoError(t, f.users.SetTwoFactorEnabled(context.Background(), u.ID, true, &secretID))

	res := f.login(t, "ada@example.com")
	assert.True(t, res.RequiresTwoFactor)
	assert.False(t, res.Session.IsMfaVerified)
}

func TestLogoutRevokesCurrentSession(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	res := f.login(t, "ada@example.com")
	assert.NoError(t, f.svc.Logout(ctx, u.ID, res.Session.ID, false))

	_, _, err := f.svc.ValidateAccessToken(ctx, res.Tokens.AccessToken)
	assert.True(t, autherr.IsUnauthorized(err))
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	first := f.login(t, "ada@example.com")
	second := f.login(t, "ada@example.com")

	assert.NoError(t, f.svc.Logout(ctx, u.ID, second.Session.ID, true))

	_, _, err := f.svc.ValidateAccessToken(ctx, first.Tokens.AccessToken)
	assert.True(t, autherr.IsUnauthorized(err))
	_, _, err = f.svc.ValidateAccessToken(ctx, second.Tokens.AccessToken)
	assert.True(t, autherr.IsUnauthorized(err))
}

func TestRefreshTokenRotates(t *testing.T) {
	f := newFixture(t)
	f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	res := f.login(t, "ada@example.com")

	_, pair, err := f.svc.RefreshToken(ctx, res.Tokens.RefreshToken)
	assert.NoError(t, err)
	assert.NotEqual(t, res.Tokens.AccessToken, pair.AccessToken)

	// The old refresh token is spent.
	_, _, err = f.svc.RefreshToken(ctx, res.Tokens.RefreshToken)
	assert.True(t, autherr.IsUnauthorized(err))
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)

	err := f.svc.ChangePassword(context.Background(), u.ID, "wrong", "N3w$Password", "")
	assert.True(t, autherr.IsUnauthorized(err))
}

func TestChangePasswordEnforcesStrength(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)

	err := f.svc.ChangePassword(context.Background(), u.ID, testPassword, "weak", "")
	assert.True(t, autherr.IsValidation(err))
}

func TestChangePasswordRejectsRecentReuse(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)

	err := f.svc.ChangePassword(context.Background(), u.ID, testPassword, testPassword, "")
	assert.True(t, autherr.IsValidation(err))
	assert.Contains(t, err.Error(), "used recently")
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	current := f.login(t, "ada@example.com")
	other := f.login(t, "ada@example.com")

	assert.NoError(t, f.svc.ChangePassword(ctx, u.ID, testPassword, "N3w$Password", current.Session.ID))

	_, _, err := f.svc.ValidateAccessToken(ctx, current.Tokens.AccessToken)
	assert.NoError(t, err)
	_, _, err = f.svc.ValidateAccessToken(ctx, other.Tokens.AccessToken)
	assert.True(t, autherr.IsUnauthorized(err))

	revoked, err := f.sessions.FindByID(ctx, other.Session.ID)
	assert.NoError(t, err)
	assert.NotNil(t, revoked.RevokeReason)
	assert.Equal(t, session.ReasonPasswordChange, *revoked.RevokeReason)

	// New password works, old does not.
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "N3w$Password"}, session.DeviceInfo{})
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword}, session.DeviceInfo{})
	assert.True(t, autherr.IsUnauthorized(err))
}

func TestForgotPasswordUnknownEmailSucceedsSilently(t *testing.T) {
	f := newFixture(t)

	raw, err := f.svc.ForgotPassword(context.Background(), "nobody@example.com", "", "")
	assert.NoError(t, err)
	assert.Empty(t, raw)
}

func TestForgotPasswordIssuesTokenForActiveUser(t *testing.T) {
	f := newFixture(t)
	f.newUser(t, "ada@example.com", user.StatusActive)

	raw, err := f.svc.ForgotPassword(context.Background(), "ada@example.com", testDevice, "curl/8.0")
	assert.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestResetPasswordFullSecurityReset(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	existing := f.login(t, "ada@example.com")

	// Lock the account the hard way first.
	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "wrong"}, session.DeviceInfo{})
	}

	raw, _, err := f.tokens.IssueReset(ctx, u.ID, "", "")
	assert.NoError(t, err)

	assert.NoError(t, f.svc.ResetPassword(ctx, raw, "N3w$Password"))

	// Sessions are revoked with the reset reason.
	revoked, err := f.sessions.FindByID(ctx, existing.Session.ID)
	assert.NoError(t, err)
	assert.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, session.ReasonPasswordReset, *revoked.RevokeReason)

	// Lock and counter are cleared; the new password logs in.
	state, err := f.users.SecurityState(ctx, u.ID)
	assert.NoError(t, err)
	assert.Nil(t, state.LockedUntil)
	assert.Equal(t, 0, state.FailedLoginAttempts)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "N3w$Password"}, session.DeviceInfo{})
	assert.NoError(t, err)

	// The token is spent.
	err = f.svc.ResetPassword(ctx, raw, "An0ther$Pass")
	assert.True(t, autherr.IsValidation(err))
}

func TestResetPasswordWeakPasswordKeepsToken(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	raw, _, err := f.tokens.IssueReset(ctx, u.ID, "", "")
	assert.NoError(t, err)

	err = f.svc.ResetPassword(ctx, raw, "weak")
	assert.True(t, autherr.IsValidation(err))

	// The token survives a rejected password and still works.
	assert.NoError(t, f.svc.ResetPassword(ctx, raw, "N3w$Password"))
}

func TestVerifyEmailActivatesPendingAccount(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusPendingVerification)
	ctx := context.Background()

	raw, err := f.svc.SendVerificationEmail(ctx, u.ID)
	assert.NoError(t, err)

	assert.NoError(t, f.svc.VerifyEmail(ctx, raw))

	verified, err := f.users.FindByID(ctx, u.ID)
	assert.NoError(t, err)
	assert.True(t, verified.EmailVerified)
	assert.Equal(t, user.StatusActive, verified.Status)

	// Single use.
	err = f.svc.VerifyEmail(ctx, raw)
	assert.True(t, autherr.IsValidation(err))
}

func TestSendVerificationEmailAlreadyVerified(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t, "ada@example.com", user.StatusActive)
	ctx := context.Background()

	assert.NoError(t, f.users.MarkEmailVerified(ctx, u.ID))

	_, err := f.svc.SendVerificationEmail(ctx, u.ID)
	assert.True(t, autherr.IsValidation(err))
}
