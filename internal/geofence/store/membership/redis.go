package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"kinwatch/internal/geofence/models"
	kwredis "kinwatch/internal/platform/redis"
	"kinwatch/pkg/platform/sentinel"
)

// RedisStore keeps each state as a JSON value and guards writes with
// WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(key models.MembershipKey) string {
	return kwredis.Key("membership", key.SubjectID.String(), key.GeofenceID.String())
}

func (s *RedisStore) Get(ctx context.Context, key models.MembershipKey) (*models.MembershipState, error) {
	return get(ctx, s.client, redisKey(key))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c getter, key string) (*models.MembershipState, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	var state models.MembershipState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode membership: %w", err)
	}
	return &state, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, next *models.MembershipState, expectedVersion uint64) error {
	key := redisKey(next.Key())
	candidate := *next
	candidate.Version = expectedVersion + 1
	payload, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("encode membership: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current uint64
		state, err := get(ctx, tx, key)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
		case err != nil:
			return err
		default:
			current = state.Version
		}
		if current != expectedVersion {
			return sentinel.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return err
	}
	next.Version = candidate.Version
	return nil
}
