package onetime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/token"
)

func newTestManager(t *testing.T) (*Manager, *MockRepository) {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)

	repo := NewMockRepository()
	cfg := &config.OneTimeTokenConfig{
		PasswordResetTTL:     time.Hour,
		EmailVerificationTTL: 24 * time.Hour,
		IssueWindow:          5 * time.Minute,
		IssueLimit:           3,
		Retention:            30 * 24 * time.Hour,
	}
	return NewManager(cfg, logger, repo, token.NewCodec()), repo
}

func TestIssueResetReturnsRawTokenStoresHash(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	raw, issued, err := m.IssueReset(ctx, "user-1", "203.0.113.9", "curl/8.0")
	assert.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.NotEqual(t, raw, issued.TokenHash)

	stored, err := repo.FindResetByHash(ctx, issued.TokenHash)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.NotNil(t, stored.IPAddress)
	assert.Equal(t, "203.0.113.9", *stored.IPAddress)
}

func TestIssueResetBurnsOlderTokens(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, _, err := m.IssueReset(ctx, "user-1", "", "")
	assert.NoError(t, err)
	second, _, err := m.IssueReset(ctx, "user-1", "", "")
	assert.NoError(t, err)

	_, err = m.ConsumeReset(ctx, first)
	assert.True(t, autherr.IsValidation(err))

	consumed, err := m.ConsumeReset(ctx, second)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", consumed.UserID)
}

func TestIssueResetRateLimited(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := m.IssueReset(ctx, "user-1", "", "")
		assert.NoError(t, err)
	}

	_, _, err := m.IssueReset(ctx, "user-1", "", "")
	assert.True(t, autherr.IsForbidden(err))

	// Other users are unaffected.
	_, _, err = m.IssueReset(ctx, "user-2", "", "")
	assert.NoError(t, err)
}

func TestConsumeResetIsSingleUse(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	raw, _, err := m.IssueReset(ctx, "user-1", "", "")
	assert.NoError(t, err)

	_, err = m.ConsumeReset(ctx, raw)
	assert.NoError(t, err)

	_, err = m.ConsumeReset(ctx, raw)
	assert.True(t, autherr.IsValidation(err))
}

func TestConsumeResetUnknownToken(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.ConsumeReset(context.Background(), "no-such-token")
	assert.True(t, autherr.IsNotFound(err))
}

func TestConsumeResetExpired(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	raw, issued, err := m.IssueReset(ctx, "user-1", "", "")
	assert.NoError(t, err)

	repo.mu.Lock()
	repo.resets[issued.ID].ExpiresAt = time.Now().Add(-time.Minute)
	repo.mu.Unlock()

	_, err = m.ConsumeReset(ctx, raw)
	assert.True(t, autherr.IsValidation(err))
}

func TestCheckResetDoesNotConsume(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	raw, _, err := m.IssueReset(ctx, "user-1", "", "")
	assert.NoError(t, err)

	_, err = m.CheckReset(ctx, raw)
	assert.NoError(t, err)

	_, err = m.ConsumeReset(ctx, raw)
	assert.NoError(t, err)
}

func TestVerificationTokenLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	raw, issued, err := m.IssueVerification(ctx, "user-1", "ada@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "ada@example.com", issued.Email)

	consumed, err := m.ConsumeVerification(ctx, raw)
	assert.NoError(t, err)
	assert.Equal(t, "ada@example.com", consumed.Email)

	_, err = m.ConsumeVerification(ctx, raw)
	assert.True(t, autherr.IsValidation(err))
}

func TestVerificationIssueRateLimited(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := m.IssueVerification(ctx, "user-1", "ada@example.com")
		assert.NoError(t, err)
	}

	_, _, err := m.IssueVerification(ctx, "user-1", "ada@example.com")
	assert.True(t, autherr.IsForbidden(err))
}

func TestDeleteExpiredPrunesPastRetention(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	_, old, err := m.IssueReset(ctx, "user-1", "", "")
	assert.NoError(t, err)
	_, fresh, err := m.IssueVerification(ctx, "user-1", "ada@example.com")
	assert.NoError(t, err)

	repo.mu.Lock()
	repo.resets[old.ID].ExpiresAt = time.Now().Add(-31 * 24 * time.Hour)
	repo.mu.Unlock()

	pruned, err := m.DeleteExpired(ctx, 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = repo.FindVerificationByHash(ctx, fresh.TokenHash)
	assert.NoError(t, err)
}
