package intake

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageTTL is how long a delivered message id is remembered.
const MessageTTL = 24 * time.Hour

const messageKeyPrefix = "webhook_msg:"

// MessageGuard drops webhook redeliveries. FirstDelivery reports true only
// the first time a message id is seen within the TTL. Release forgets an id
// whose processing failed so a redelivery is handled again.
type MessageGuard interface {
	FirstDelivery(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client, ttl: MessageTTL}
}

func (g *RedisGuard) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	return g.client.SetNX(ctx, messageKeyPrefix+messageID, "1", g.ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, messageID string) error {
	return g.client.Del(ctx, messageKeyPrefix+messageID).Err()
}

// MemoryGuard is the single-process guard used when no Redis is configured.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (g *MemoryGuard) FirstDelivery(_ context.Context, messageID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, expires := range g.seen {
		if now.After(expires) {
			delete(g.seen, id)
		}
	}

	if _, ok := g.seen[messageID]; ok {
		return false, nil
	}
	g.seen[messageID] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, messageID)
	return nil
}
