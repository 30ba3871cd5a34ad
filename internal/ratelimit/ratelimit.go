package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/deusflow/newsdesk/internal/apperr"
)

// Pacer spaces sequential external calls within one batch. A zero
// interval disables pacing.
type Pacer struct {
	limiter *rate.Limiter
}

func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call may start or ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// Budget caps calls per provider over a rolling day. Limits of zero mean
// unlimited.
type Budget struct {
	mu        sync.Mutex
	limits    map[string]int
	used      map[string]int
	window    time.Duration
	resetTime time.Time
	now       func() time.Time
	log       *slog.Logger
}

func NewBudget(limits map[string]int, log *slog.Logger) *Budget {
	if log == nil {
		log = slog.Default()
	}
	b := &Budget{
		limits: make(map[string]int, len(limits)),
		used:   map[string]int{},
		window: 24 * time.Hour,
		now:    time.Now,
		log:    log,
	}
	for k, v := range limits {
		b.limits[k] = v
	}
	b.resetTime = b.now().Add(b.window)
	return b
}

// WithClock swaps the time source. Used by tests.
func (b *Budget) WithClock(now func() time.Time) *Budget {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.resetTime = now().Add(b.window)
	return b
}

// Use consumes one call for provider or returns ErrProviderExhausted.
func (b *Budget) Use(provider string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	limit := b.limits[provider]
	if limit > 0 && b.used[provider] >= limit {
		b.log.Warn("provider budget reached", "provider", provider, "used", b.used[provider], "limit", limit)
		return apperr.ProviderExhausted(provider)
	}
	b.used[provider]++
	return nil
}

// Stats reports usage per provider.
func (b *Budget) Stats() map[string]any {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := map[string]any{"reset_time": b.resetTime}
	for p, limit := range b.limits {
		out[p+"_used"] = b.used[p]
		out[p+"_limit"] = limit
	}
	return out
}

func (b *Budget) checkReset() {
	if b.now().After(b.resetTime) {
		b.log.Info("resetting provider budgets", "used", b.used)
		b.used = map[string]int{}
		b.resetTime = b.now().Add(b.window)
	}
}
