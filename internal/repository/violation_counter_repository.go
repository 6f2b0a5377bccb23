package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
)

// ViolationCounterRepository keeps per-attempt violation counters in Redis.
type ViolationCounterRepository struct {
	rdb *redis.Client
}

// NewViolationCounterRepository creates a new ViolationCounterRepository.
func NewViolationCounterRepository(rdb *redis.Client) *ViolationCounterRepository {
	return &ViolationCounterRepository{rdb: rdb}
}

// Increment atomically bumps the attempt's counter and returns the new value.
// INCR and EXPIRE run in one MULTI so the counter never outlives ttl.
func (r *ViolationCounterRepository) Increment(ctx context.Context, attemptID uuid.UUID, ttl time.Duration) (int64, error) {
	key := config.CacheKey.AttemptViolationCountKey(attemptID.String())

	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment violations: %w", err)
	}
	return incr.Val(), nil
}
