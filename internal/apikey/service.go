package apikey

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/token"
	"github.com/beaconhq/beacon-auth/internal/user"
)

const usageRecordTimeout = 5 * time.Second

// CreateInput describes a key to mint. Zero-valued optional fields mean
// unrestricted.
type CreateInput struct {
	Name             string
	Scopes           []string
	AllowedIPs       []string
	AllowedOrigins   []string
	RateLimitPerHour *int
	ExpiresAt        *time.Time
}

// RequestContext carries the caller attributes checked during
// validation.
type RequestContext struct {
	IPAddress      string
	Origin         string
	RequiredScopes []string
}

// Service mints, validates, and retires API keys. Validation is the hot
// path: one hash lookup plus in-memory checks, with the usage write
// pushed off the request.
type Service struct {
	config *config.APIKeyConfig
	log    *zap.Logger
	repo   Repository
	users  user.Repository
	codec  *token.Codec

	recordAsync bool
}

func NewService(config *config.APIKeyConfig, log *zap.Logger, repo Repository, users user.Repository, codec *token.Codec) *Service {
	return &Service{
		config:      config,
		log:         log,
		repo:        repo,
		users:       users,
		codec:       codec,
		recordAsync: true,
	}
}

// Create mints a key for the user. The plaintext key is returned exactly
// once; afterwards only its hash exists.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (string, *Key, error) {
	if input.Name == "" {
		return "", nil, autherr.ValidationMsg("name", "name is required")
	}
	if len(input.Scopes) == 0 {
		return "", nil, autherr.ValidationMsg("scopes", "at least one scope is required")
	}
	for _, scope := range input.Scopes {
		if !s.scopeAllowed(scope) {
			return "", nil, autherr.ValidationMsg("scopes", "unknown scope: "+scope)
		}
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return "", nil, autherr.ValidationMsg("expires_at", "expiry must be in the future")
	}

	count, err := s.repo.CountActiveForUser(ctx, userID)
	if err != nil {
		return "", nil, autherr.Database("count api keys", err)
	}
	if s.config.MaxKeysPerUser > 0 && count >= int64(s.config.MaxKeysPerUser) {
		return "", nil, autherr.Forbidden("api key limit reached")
	}

	minted, err := s.codec.NewAPIKey()
	if err != nil {
		return "", nil, autherr.Database("mint api key", err)
	}

	k := &Key{
		UserID:           userID,
		Name:             input.Name,
		KeyHash:          minted.Hash,
		KeyPrefix:        minted.Prefix,
		Scopes:           datatypes.NewJSONSlice(input.Scopes),
		RateLimitPerHour: input.RateLimitPerHour,
		ExpiresAt:        input.ExpiresAt,
		IsActive:         true,
	}
	if len(input.AllowedIPs) > 0 {
		k.AllowedIPs = datatypes.NewJSONSlice(input.AllowedIPs)
	}
	if len(input.AllowedOrigins) > 0 {
		k.AllowedOrigins = datatypes.NewJSONSlice(input.AllowedOrigins)
	}

	if err := s.repo.Create(ctx, k); err != nil {
		return "", nil, autherr.Database("create api key", err)
	}

	s.log.Info("api key created",
		zap.String("key_id", k.ID),
		zap.String("user_id", userID),
		zap.String("prefix", k.KeyPrefix),
		zap.Strings("scopes", input.Scopes))
	return minted.PlainKey, k, nil
}

// Validate resolves a presented key to its owner, enforcing liveness,
// rate limit, scope, and allowlist checks. Key problems the caller could
// fix with a different credential are Unauthorized; policy denials on a
// live key are Forbidden.
func (s *Service) Validate(ctx context.Context, presentedKey string, req RequestContext) (*Key, *user.User, error) {
	secret, ok := token.SplitAPIKey(presentedKey)
	if !ok {
		return nil, nil, autherr.Unauthorized("invalid api key")
	}

	k, err := s.repo.FindByHash(ctx, s.codec.Hash(secret))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil, autherr.Unauthorized("invalid api key")
		}
		return nil, nil, autherr.Database("validate api key", err)
	}

	now := time.Now()
	switch {
	case k.RevokedAt != nil:
		return nil, nil, autherr.Unauthorized("api key has been revoked")
	case !k.IsActive:
		return nil, nil, autherr.Unauthorized("api key is inactive")
	case k.Expired(now):
		return nil, nil, autherr.Unauthorized("api key has expired")
	}

	switch {
	case k.RateLimited():
		return nil, nil, autherr.Forbidden("api key rate limit exceeded")
	case !k.HasScopes(req.RequiredScopes):
		return nil, nil, autherr.Forbidden("api key is missing a required scope")
	case req.IPAddress != "" && !k.AllowsIP(req.IPAddress):
		return nil, nil, autherr.Forbidden("api key is not allowed from this address")
	case req.Origin != "" && !k.AllowsOrigin(req.Origin):
		return nil, nil, autherr.Forbidden("api key is not allowed from this origin")
	}

	u, err := s.users.FindByID(ctx, k.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, nil, autherr.Unauthorized("invalid api key")
		}
		return nil, nil, autherr.Database("validate api key", err)
	}
	if !u.IsActive() {
		return nil, nil, autherr.Forbidden("account is not active")
	}

	s.recordUsage(k.ID, req.IPAddress)
	return k, u, nil
}

// recordUsage stamps the key off the request path; a lost stamp is an
// acceptable trade for validation latency.
func (s *Service) recordUsage(keyID, ip string) {
	record := func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageRecordTimeout)
		defer cancel()
		if err := s.repo.RecordUsage(ctx, keyID, ip, time.Now()); err != nil {
			s.log.Error("failed to record api key usage",
				zap.String("key_id", keyID), zap.Error(err))
		}
	}
	if s.recordAsync {
		go record()
		return
	}
	record()
}

// Revoke ends a key. Only the owner may revoke through this path;
// revokedBy records who acted for audit.
func (s *Service) Revoke(ctx context.Context, keyID, ownerID, revokedBy, reason string) error {
	k, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return autherr.NotFound("api key")
		}
		return autherr.Database("revoke api key", err)
	}
	if k.UserID != ownerID {
		return autherr.Forbidden("api key belongs to another account")
	}

	ok, err := s.repo.Revoke(ctx, keyID, revokedBy, reason)
	if err != nil {
		return autherr.Database("revoke api key", err)
	}
	if ok {
		s.log.Info("api key revoked",
			zap.String("key_id", keyID),
			zap.String("reason", reason))
	}
	return nil
}

// ListForUser returns the user's keys, newest first. Hashes stay in the
// rows; the boundary layer decides what to expose.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Key, error) {
	keys, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, autherr.Database("list api keys", err)
	}
	return keys, nil
}

// ResetUsageCounters opens a fresh rate-limit window for every key.
func (s *Service) ResetUsageCounters(ctx context.Context) (int64, error) {
	count, err := s.repo.ResetUsageCounters(ctx)
	if err != nil {
		return 0, autherr.Database("reset api key counters", err)
	}
	return count, nil
}

// DeactivateExpired is the periodic sweep flipping expired keys off.
func (s *Service) DeactivateExpired(ctx context.Context, batchSize int) (int64, error) {
	count, err := s.repo.DeactivateExpired(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, autherr.Database("deactivate expired api keys", err)
	}
	return count, nil
}

func (s *Service) scopeAllowed(scope string) bool {
	for _, allowed := range s.config.AllowedScopes {
		if allowed == scope {
			return true
		}
	}
	return false
}
