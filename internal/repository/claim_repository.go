package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const claimKeyPrefix = "notify:claim:"

// ClaimRepository reserves (recipient, event) delivery slots in Redis so two
// overlapping bulk sends cannot both deliver the same message.
type ClaimRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClaimRepository constructs a claim repository. A nil client disables claiming.
func NewClaimRepository(client *redis.Client, logger *zap.Logger) *ClaimRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimRepository{client: client, logger: logger}
}

// Claim reserves key for ttl. It returns false when another sender holds it.
func (r *ClaimRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, claimKeyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim so a later send may retry the delivery.
func (r *ClaimRepository) Release(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, claimKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}
