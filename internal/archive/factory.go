package archive

import (
	"context"
	"strings"
	"time"
)

// NewStore picks a backend: Postgres when databaseURL is set, then Redis,
// otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, redisURL string, ttl time.Duration) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(redisURL) != "" {
		return NewRedisStore(ctx, redisURL, ttl)
	}
	return NewInMemoryStore(0), nil
}
