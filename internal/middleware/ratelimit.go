package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go-auth-service/internal/model"
)

const (
	defaultGeneralRPM = 100
	defaultAuthRPM    = 10
	authPathPrefix    = "/api/v1/auth"
)

// limiterBackend decides whether one more request for key fits in a budget of
// rpm requests per minute. retryAfter is a hint for refused requests.
type limiterBackend interface {
	Allow(ctx context.Context, key string, rpm int) (allowed bool, retryAfter time.Duration, err error)
}

type RateLimitMiddleware struct {
	generalRPM int
	authRPM    int
	backend    limiterBackend
}

// NewRateLimitMiddleware limits per client IP in process memory.
func NewRateLimitMiddleware(generalRPM int, authRPM int) *RateLimitMiddleware {
	return newRateLimit(generalRPM, authRPM, newMemoryLimiter())
}

// NewDistributedRateLimitMiddleware shares budgets across instances through Redis.
func NewDistributedRateLimitMiddleware(generalRPM int, authRPM int, limiter *RedisLimiter) *RateLimitMiddleware {
	return newRateLimit(generalRPM, authRPM, limiter)
}

func newRateLimit(generalRPM int, authRPM int, backend limiterBackend) *RateLimitMiddleware {
	if generalRPM <= 0 {
		generalRPM = defaultGeneralRPM
	}
	if authRPM <= 0 {
		authRPM = defaultAuthRPM
	}
	return &RateLimitMiddleware{generalRPM: generalRPM, authRPM: authRPM, backend: backend}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket, rpm := "general", m.generalRPM
		if strings.HasPrefix(strings.ToLower(r.URL.Path), authPathPrefix) {
			bucket, rpm = "auth", m.authRPM
		}

		key := bucket + ":" + ClientIP(r)
		allowed, retryAfter, err := m.backend.Allow(r.Context(), key, rpm)
		if err != nil {
			// The limiter store being down must not take authentication down with it.
			slog.Warn("rate limiter unavailable", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(model.APIResponse{
				Success: false,
				Error: &model.APIError{
					Code:    "RATE_LIMITED",
					Message: "Too many requests",
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*memoryEntry
}

func newMemoryLimiter() *memoryLimiter {
	return &memoryLimiter{clients: map[string]*memoryEntry{}}
}

func (l *memoryLimiter) Allow(_ context.Context, key string, rpm int) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, exists := l.clients[key]
	if !exists {
		entry = &memoryEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	l.gcLocked(now)

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

func (l *memoryLimiter) gcLocked(now time.Time) {
	if len(l.clients) < 1000 {
		return
	}

	cutoff := now.Add(-10 * time.Minute)
	for key, entry := range l.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}
