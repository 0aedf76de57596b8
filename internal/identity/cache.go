package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"umoja/pkg/domain"
)

const cacheKeyPrefix = "umoja:identity:"

// Cache is a Redis read-through cache in front of a Directory. Redis failures
// degrade to the wrapped directory; they never fail the lookup.
type Cache struct {
	next   Directory
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(next Directory, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *Cache) IsCommunityMember(ctx context.Context, user domain.UserID, community domain.CommunityID) (bool, error) {
	return c.cachedBool(ctx, "member:"+string(community)+":"+string(user), func() (bool, error) {
		return c.next.IsCommunityMember(ctx, user, community)
	})
}

func (c *Cache) IsElder(ctx context.Context, user domain.UserID) (bool, error) {
	return c.cachedBool(ctx, "elder:"+string(user), func() (bool, error) {
		return c.next.IsElder(ctx, user)
	})
}

func (c *Cache) HasVerifierCredential(ctx context.Context, user domain.UserID, mode string) (bool, error) {
	return c.cachedBool(ctx, "verifier:"+mode+":"+string(user), func() (bool, error) {
		return c.next.HasVerifierCredential(ctx, user, mode)
	})
}

func (c *Cache) MembershipTier(ctx context.Context, user domain.UserID) (Tier, error) {
	key := cacheKeyPrefix + "tier:" + string(user)
	if v, err := c.client.Get(ctx, key).Result(); err == nil {
		if t := Tier(v); t.Valid() {
			return t, nil
		}
	} else if err != redis.Nil {
		c.logger.WarnContext(ctx, "identity cache read failed", "key", key, "error", err)
	}
	t, err := c.next.MembershipTier(ctx, user)
	if err != nil {
		return "", err
	}
	c.store(ctx, key, string(t))
	return t, nil
}

func (c *Cache) cachedBool(ctx context.Context, suffix string, load func() (bool, error)) (bool, error) {
	key := cacheKeyPrefix + suffix
	v, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return v == "1", nil
	case err != redis.Nil:
		c.logger.WarnContext(ctx, "identity cache read failed", "key", key, "error", err)
	}
	ok, err := load()
	if err != nil {
		return false, err
	}
	val := "0"
	if ok {
		val = "1"
	}
	c.store(ctx, key, val)
	return ok, nil
}

func (c *Cache) store(ctx context.Context, key, val string) {
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "identity cache write failed", "key", key, "error", err)
	}
}
