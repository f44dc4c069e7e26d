package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "orderflow:idem:"

// RedisStore keeps records as JSON values with native key expiry, so CleanupExpired has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ttl = effectiveTTL(ttl)
	record := pendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}
	redisKey := redisKeyPrefix + documentID(key)
	ok, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if ok {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the other request finished without storing.
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode: %w", err)
	}
	return reservationFor(existing, fingerprint)
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = effectiveTTL(ttl)
	payload, err := json.Marshal(completedRecord(key, fingerprint, resp, now.UTC(), ttl))
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+documentID(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+documentID(key)).Err()
}

func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) FirstSeen(ctx context.Context, scope, id string, now time.Time, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+"seen:"+scope+":"+id, now.UTC().Format(time.RFC3339Nano), effectiveTTL(ttl)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: first seen: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Forget(ctx context.Context, scope, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+"seen:"+scope+":"+id).Err(); err != nil {
		return fmt.Errorf("idempotency: forget: %w", err)
	}
	return nil
}
