package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Window is one fixed-window rule. A zero Limit disables the rule.
type Window struct {
	Name   string
	Length time.Duration
	Limit  int
}

func PerMinute(limit int) Window {
	return Window{Name: "min", Length: time.Minute, Limit: limit}
}

type Limiter struct {
	store   WindowStore
	scope   string
	windows []Window
}

func NewLimiter(store WindowStore, scope string, windows ...Window) *Limiter {
	active := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w.Limit > 0 && w.Length > 0 {
			active = append(active, w)
		}
	}
	return &Limiter{store: store, scope: scope, windows: active}
}

// Allow counts one action for subjectID against every window. When any window is
// over its limit it returns the longest wait in whole seconds.
func (l *Limiter) Allow(ctx context.Context, subjectID int64) (int64, bool, error) {
	if subjectID <= 0 {
		return 0, false, fmt.Errorf("invalid subject id")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)
	for _, w := range l.windows {
		count, ttl, err := l.store.IncrementWindow(ctx, l.key(w, subjectID), w.Length)
		if err != nil {
			return 0, false, err
		}
		if count > int64(w.Limit) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}
	return 0, true, nil
}

func (l *Limiter) AllowCreateOrder(ctx context.Context, purchaserID int64) (int64, bool, error) {
	return l.Allow(ctx, purchaserID)
}

func (l *Limiter) key(w Window, subjectID int64) string {
	return "rate:" + l.scope + ":" + w.Name + ":" + strconv.FormatInt(subjectID, 10)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	return sec
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
