package assistant

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultCacheTTL = 10 * time.Minute
	cleanupInterval = 30 * time.Minute
)

// Cached remembers answers by normalized question. Failed answers are not cached.
type Cached struct {
	next  Answerer
	cache *cache.Cache
}

func NewCached(next Answerer, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:  next,
		cache: cache.New(ttl, cleanupInterval),
	}
}

func (c *Cached) Answer(ctx context.Context, question string) (string, error) {
	key := normalize(question)
	if v, ok := c.cache.Get(key); ok {
		return v.(string), nil
	}

	answer, err := c.next.Answer(ctx, question)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(key, answer)
	return answer, nil
}

func normalize(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}
