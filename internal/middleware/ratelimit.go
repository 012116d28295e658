package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hanna4328/chat-bot/internal/logging"
)

// limiterStore counts hits for key inside a fixed window. It returns the
// count including this hit and the time until the window resets.
type limiterStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error)
}

type RateLimiter struct {
	store  limiterStore
	limit  int
	window time.Duration
}

// NewRateLimiter limits each client IP to limit requests per window using
// process memory.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: newMemoryStore(window), limit: limit, window: window}
}

// NewRedisRateLimiter shares the window across server replicas.
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: &redisStore{client: client, prefix: "ratelimit:"}, limit: limit, window: window}
}

// Backend names the store holding the counters: "memory" or "redis".
func (rl *RateLimiter) Backend() string {
	if _, ok := rl.store.(*redisStore); ok {
		return "redis"
	}
	return "memory"
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.limit <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, resetIn, err := rl.store.Hit(r.Context(), clientIP(r), rl.window)
		if err != nil {
			// Fail open: a broken limiter backend must not take the proxy down.
			slog.WarnContext(r.Context(), "rate limiter unavailable", logging.Err(err))
			next.ServeHTTP(w, r)
			return
		}

		if count > rl.limit {
			seconds := int(math.Ceil(resetIn.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type visitor struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

type memoryStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func newMemoryStore(window time.Duration) *memoryStore {
	s := &memoryStore{
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}

	// Cleanup goroutine
	go func() {
		for {
			time.Sleep(window)
			s.mu.Lock()
			for ip, v := range s.visitors {
				if s.now().Sub(v.lastSeen) > window {
					delete(s.visitors, ip)
				}
			}
			s.mu.Unlock()
		}
	}()

	return s
}

func (s *memoryStore) Hit(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	v, exists := s.visitors[key]
	if !exists || now.Sub(v.windowStart) >= window {
		s.visitors[key] = &visitor{count: 1, windowStart: now, lastSeen: now}
		return 1, window, nil
	}

	v.count++
	v.lastSeen = now
	return v.count, window - now.Sub(v.windowStart), nil
}

type redisStore struct {
	client *redis.Client
	prefix string
}

func (s *redisStore) Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	k := s.prefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, window)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count request: %w", err)
	}

	resetIn := ttl.Val()
	if resetIn <= 0 {
		resetIn = window
	}
	return int(incr.Val()), resetIn, nil
}
