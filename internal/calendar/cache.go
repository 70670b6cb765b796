package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/kiyo123456/Tatemoku-management/internal/logging"
	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

// BusyCache stores encoded free/busy responses.
type BusyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisBusyCache keeps free/busy responses in Redis.
type RedisBusyCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBusyCache wraps a go-redis client. Keys are namespaced with prefix.
func NewRedisBusyCache(client redis.Cmdable, prefix string) *RedisBusyCache {
	if prefix == "" {
		prefix = "tatemoku:freebusy:"
	}
	return &RedisBusyCache{client: client, prefix: prefix}
}

// Get returns the cached value; a missing key is reported as ok == false.
func (c *RedisBusyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores value with the given expiry.
func (c *RedisBusyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// sharedLookupTimeout bounds a collapsed lookup when the caller set no deadline.
const sharedLookupTimeout = 10 * time.Second

// CachedProvider decorates an AvailabilityProvider with a short-lived cache.
// Only successful lookups are stored; failures always reach the caller.
type CachedProvider struct {
	next   scheduler.AvailabilityProvider
	cache  BusyCache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedProvider builds the decorator. A non-positive ttl defaults to one minute.
func NewCachedProvider(next scheduler.AvailabilityProvider, cache BusyCache, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, logger: logger}
}

type cachedInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FreeBusy serves from cache when possible and collapses concurrent identical lookups.
func (p *CachedProvider) FreeBusy(ctx context.Context, contactKeys []string, start, end time.Time) (map[string][]scheduler.Interval, error) {
	key := cacheKey(ctx, contactKeys, start, end)
	logger := p.loggerFor(ctx)

	if p.cache != nil {
		raw, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			logger.WarnContext(ctx, "free/busy cache read failed", "error", err)
		} else if ok {
			if decoded, derr := decodeBusy(raw); derr == nil {
				return decoded, nil
			}
		}
	}

	timeout := sharedLookupTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	results := p.group.DoChan(key, func() (any, error) {
		// Outlives a canceled first caller, bounded by its deadline.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return p.next.FreeBusy(callCtx, contactKeys, start, end)
	})

	var busy map[string][]scheduler.Interval
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		busy = res.Val.(map[string][]scheduler.Interval)
	}

	if p.cache != nil {
		if raw, eerr := encodeBusy(busy); eerr == nil {
			if serr := p.cache.Set(ctx, key, raw, p.ttl); serr != nil {
				logger.WarnContext(ctx, "free/busy cache write failed", "error", serr)
			}
		}
	}
	return busy, nil
}

func (p *CachedProvider) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return p.logger
}

// cacheKey is scoped to the caller's token so one account never sees another's lookups.
func cacheKey(ctx context.Context, contactKeys []string, start, end time.Time) string {
	sorted := append([]string(nil), contactKeys...)
	sort.Strings(sorted)
	token, _ := AccessTokenFromContext(ctx)

	h := sha256.New()
	h.Write([]byte(token))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(start.UTC().Format(time.RFC3339)))
	h.Write([]byte(end.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

func encodeBusy(busy map[string][]scheduler.Interval) ([]byte, error) {
	out := make(map[string][]cachedInterval, len(busy))
	for key, intervals := range busy {
		converted := make([]cachedInterval, 0, len(intervals))
		for _, i := range intervals {
			converted = append(converted, cachedInterval{Start: i.Start, End: i.End})
		}
		out[key] = converted
	}
	return json.Marshal(out)
}

func decodeBusy(raw []byte) (map[string][]scheduler.Interval, error) {
	var decoded map[string][]cachedInterval
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	busy := make(map[string][]scheduler.Interval, len(decoded))
	for key, intervals := range decoded {
		converted := make([]scheduler.Interval, 0, len(intervals))
		for _, i := range intervals {
			converted = append(converted, scheduler.Interval{Start: i.Start, End: i.End})
		}
		busy[key] = converted
	}
	return busy, nil
}
