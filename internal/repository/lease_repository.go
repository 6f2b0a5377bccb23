package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
)

// releaseLeaseScript deletes a lease only while it still holds the caller's token.
// KEYS[1] = lease key, ARGV[1] = token
var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendLeaseScript resets a lease TTL only while it still holds the caller's token.
// KEYS[1] = lease key, ARGV[1] = token, ARGV[2] = ttl in milliseconds
var extendLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// LeaseRepository stores single-session leases in Redis. It is the only
// source of truth for "this candidate currently holds the exam session".
type LeaseRepository struct {
	rdb *redis.Client
}

// NewLeaseRepository creates a new LeaseRepository.
func NewLeaseRepository(rdb *redis.Client) *LeaseRepository {
	return &LeaseRepository{rdb: rdb}
}

// Acquire creates the candidate's lease if, and only if, none exists.
// A single SET NX PX; there is no read before the write.
func (r *LeaseRepository) Acquire(ctx context.Context, candidateID int, token string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, config.CacheKey.SessionLeaseKey(candidateID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

// Extend resets the lease TTL if it is still owned by token.
func (r *LeaseRepository) Extend(ctx context.Context, candidateID int, token string, ttl time.Duration) (bool, error) {
	n, err := extendLeaseScript.Run(ctx, r.rdb,
		[]string{config.CacheKey.SessionLeaseKey(candidateID)},
		token, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lease: %w", err)
	}
	return n == 1, nil
}

// Release deletes the lease if it is still owned by token.
func (r *LeaseRepository) Release(ctx context.Context, candidateID int, token string) (bool, error) {
	n, err := releaseLeaseScript.Run(ctx, r.rdb,
		[]string{config.CacheKey.SessionLeaseKey(candidateID)},
		token,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("release lease: %w", err)
	}
	return n == 1, nil
}

// Token returns the token of the candidate's live lease, or "" if none exists.
func (r *LeaseRepository) Token(ctx context.Context, candidateID int) (string, error) {
	token, err := r.rdb.Get(ctx, config.CacheKey.SessionLeaseKey(candidateID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get lease: %w", err)
	}
	return token, nil
}

// Scan returns every live lease as candidate id → token.
func (r *LeaseRepository) Scan(ctx context.Context) (map[int]string, error) {
	leases := make(map[int]string)

	iter := r.rdb.Scan(ctx, 0, config.CacheKey.SessionLeasePattern(), 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		candidateID, ok := config.CacheKey.CandidateFromLeaseKey(key)
		if !ok {
			continue
		}
		token, err := r.rdb.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // Expired between SCAN and GET
			}
			return nil, fmt.Errorf("get lease %s: %w", key, err)
		}
		leases[candidateID] = token
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan leases: %w", err)
	}
	return leases, nil
}
