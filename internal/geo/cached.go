package geo

import (
	"context"
	"strings"
	"time"

	"github.com/edgeproxy/edgeproxy/internal/region"
	"github.com/edgeproxy/edgeproxy/pkg/cache"
)

// CachedResolver memoizes a Resolver's lookups over a cache.Cache so that
// repeat resolutions for the same hot client IP skip the underlying
// database read. This is purely an optimization: Resolve remains pure and
// side-effect-free from the caller's point of view.
type CachedResolver struct {
	next  Resolver
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedResolver wraps next with c, caching each result for ttl.
func NewCachedResolver(next Resolver, c cache.Cache, ttl time.Duration) *CachedResolver {
	return &CachedResolver{next: next, cache: c, ttl: ttl}
}

const missSentinel = "-"

func encode(info Info, ok bool) []byte {
	if !ok {
		return []byte(missSentinel)
	}
	return []byte(info.Country + "|" + string(info.Region))
}

func decode(raw []byte) (Info, bool) {
	s := string(raw)
	if s == missSentinel {
		return Info{}, false
	}
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 {
		return Info{}, false
	}
	return Info{Country: parts[0], Region: region.Code(parts[1])}, true
}

// Resolve checks the cache first; on a miss it consults next and
// memoizes the result, including negative lookups, so that an unknown IP
// doesn't repeatedly pay the database-read cost either.
func (c *CachedResolver) Resolve(ip string) (Info, bool) {
	ctx := context.Background()

	if raw, err := c.cache.Get(ctx, ip); err == nil {
		return decode(raw)
	}

	info, ok := c.next.Resolve(ip)
	_ = c.cache.Set(ctx, ip, encode(info, ok), c.ttl)
	return info, ok
}
