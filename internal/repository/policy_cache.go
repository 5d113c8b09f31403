package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pettycash/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CachedPolicyRepository reads policies through redis. Cache failures are logged
// and fall back to the wrapped repository.
type CachedPolicyRepository struct {
	inner  PolicyRepository
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedPolicyRepository(inner PolicyRepository, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedPolicyRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedPolicyRepository{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func PolicyCacheKey(orgID uuid.UUID) string {
	return "policy:" + orgID.String()
}

func (r *CachedPolicyRepository) GetPolicy(ctx context.Context, orgID uuid.UUID) (*model.Policy, error) {
	key := PolicyCacheKey(orgID)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var policy model.Policy
		if jsonErr := json.Unmarshal(raw, &policy); jsonErr == nil {
			return &policy, nil
		}
		r.logger.Warn("Discarding malformed cached policy", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("Policy cache read failed", zap.String("key", key), zap.Error(err))
	}

	policy, err := r.inner.GetPolicy(ctx, orgID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(policy)
	if err != nil {
		return policy, nil
	}
	if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("Policy cache write failed", zap.String("key", key), zap.Error(err))
	}
	return policy, nil
}

// Invalidate drops the cached policy of orgID. Policy rows are maintained by
// administrative tooling outside this service; that tooling calls Invalidate
// (or deletes PolicyCacheKey directly) after an edit. Otherwise the change is
// picked up when the TTL expires.
func (r *CachedPolicyRepository) Invalidate(ctx context.Context, orgID uuid.UUID) error {
	return r.rdb.Del(ctx, PolicyCacheKey(orgID)).Err()
}
