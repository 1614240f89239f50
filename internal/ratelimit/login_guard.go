package ratelimit

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LoginGuard locks an email out after too many failed logins inside a
// fixed window. A nil store disables it.
type LoginGuard struct {
	store       Store
	maxFailures int64
	window      time.Duration
}

func NewLoginGuard(store Store, maxFailures int, window time.Duration) *LoginGuard {
	return &LoginGuard{store: store, maxFailures: int64(maxFailures), window: window}
}

func failureKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("login:fails:%x", sum[:8])
}

// Locked reports whether email is locked and for how many seconds. Store
// errors fail open.
func (g *LoginGuard) Locked(ctx context.Context, email string) (bool, int) {
	if g == nil || g.store == nil {
		return false, 0
	}
	key := failureKey(email)
	v, err := g.store.Get(ctx, key)
	if err != nil || v == "" {
		return false, 0
	}
	var count int64
	if _, err := fmt.Sscan(v, &count); err != nil || count < g.maxFailures {
		return false, 0
	}
	ttl, err := g.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return true, int(g.window.Seconds())
	}
	return true, int(ttl.Seconds())
}

func (g *LoginGuard) RecordFailure(ctx context.Context, email string) {
	if g == nil || g.store == nil {
		return
	}
	key := failureKey(email)
	count, err := g.store.Incr(ctx, key)
	if err != nil {
		slog.Warn("ratelimit: failed to record login failure", "error", err)
		return
	}
	if count == 1 {
		if err := g.store.Expire(ctx, key, g.window); err != nil {
			slog.Warn("ratelimit: failed to set login failure window", "error", err)
		}
	}
}

func (g *LoginGuard) Reset(ctx context.Context, email string) {
	if g == nil || g.store == nil {
		return
	}
	if err := g.store.Del(ctx, failureKey(email)); err != nil {
		slog.Warn("ratelimit: failed to reset login failures", "error", err)
	}
}
