package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

const KeyPrefix = "ratelimit:"

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
	WindowKey  string
}

// Err returns the rate-limit error for a denied decision, nil otherwise.
func (d Decision) Err(senderID string) error {
	if d.Allowed {
		return nil
	}
	return core.RateLimitError(senderID, d.RetryAfter)
}

// FixedWindowLimiter counts requests per sender in windows aligned to the
// epoch. Counts reset at each boundary, so a sender can be admitted up to
// twice MaxRequests across two adjacent windows.
type FixedWindowLimiter struct {
	Store       core.KeyValueStore
	MaxRequests int
	Window      time.Duration
	Buffer      time.Duration
	Now         func() time.Time
}

func NewFixedWindowLimiter(store core.KeyValueStore, cfg core.RateLimitConfig) *FixedWindowLimiter {
	maxRequests := cfg.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 60
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = time.Second
	}
	return &FixedWindowLimiter{
		Store:       store,
		MaxRequests: maxRequests,
		Window:      window,
		Buffer:      buffer,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// WindowStart returns the start of the window containing at, in epoch
// milliseconds.
func WindowStart(at time.Time, window time.Duration) int64 {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return at.UnixMilli()
	}
	return (at.UnixMilli() / windowMs) * windowMs
}

func Key(senderID string, windowStart int64) string {
	return KeyPrefix + strings.TrimSpace(senderID) + ":" + strconv.FormatInt(windowStart, 10)
}

func (l *FixedWindowLimiter) Admit(ctx context.Context, senderID string) (Decision, error) {
	if l == nil || l.Store == nil {
		return Decision{}, core.ConfigurationError("rate limiter requires a store", nil)
	}
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return Decision{}, core.ValidationError("sender is required", map[string]any{"field": "From"})
	}

	key := Key(senderID, WindowStart(l.now(), l.Window))
	count, err := l.Store.Incr(ctx, key)
	if err != nil {
		return Decision{}, core.StoreUnavailableError("rate limit counter unavailable", err)
	}
	if count == 1 {
		if err := l.Store.Expire(ctx, key, l.Window+l.Buffer); err != nil {
			return Decision{}, core.StoreUnavailableError("rate limit expiry failed", err)
		}
	}

	decision := Decision{
		Allowed:   count <= int64(l.MaxRequests),
		Count:     count,
		Limit:     l.MaxRequests,
		WindowKey: key,
	}
	if decision.Allowed {
		return decision, nil
	}
	decision.RetryAfter = l.retryAfter(ctx, key)
	return decision, nil
}

// retryAfter is the remaining counter lifetime clamped to [1s, Window]. A
// failed lookup reports the full window.
func (l *FixedWindowLimiter) retryAfter(ctx context.Context, key string) time.Duration {
	remaining, err := l.Store.TTL(ctx, key)
	if err != nil || remaining <= 0 {
		return l.Window
	}
	if remaining > l.Window {
		return l.Window
	}
	if remaining < time.Second {
		return time.Second
	}
	return remaining
}

func (l *FixedWindowLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}
