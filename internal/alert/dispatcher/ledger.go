package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	kwredis "kinwatch/internal/platform/redis"
	id "kinwatch/pkg/domain"
)

// MemoryLedger is a process-local delivery ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	claimed map[id.AlertID]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{claimed: make(map[id.AlertID]struct{})}
}

func (l *MemoryLedger) Claim(_ context.Context, alertID id.AlertID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.claimed[alertID]; ok {
		return false, nil
	}
	l.claimed[alertID] = struct{}{}
	return true, nil
}

const defaultLedgerTTL = 7 * 24 * time.Hour

// RedisLedger shares delivery claims across dispatcher replicas. Claims
// expire after ttl; redelivery is only expected within minutes.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) (*RedisLedger, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &RedisLedger{client: client, ttl: ttl}, nil
}

func (l *RedisLedger) Claim(ctx context.Context, alertID id.AlertID) (bool, error) {
	return l.client.SetNX(ctx, kwredis.Key("delivered", alertID.String()), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
}
