// Package fanout maps a slice through a fallible function with bounded
// parallelism, turning every failure into a nil slot.
package fanout

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fieldmap/internal/resilience"
)

// DefaultLimit is the lane count used when callers pass a non-positive limit
// through Options.
const DefaultLimit = 8

// Mapper resolves one item. A nil result with a nil error means "no data".
type Mapper[T, R any] func(ctx context.Context, item T) (*R, error)

// Map applies fn to every item using at most limit concurrent lanes that pull
// from a shared cursor. The result has the same length and order as items;
// a slot is nil when fn failed, panicked or returned nothing. Map never
// returns an error.
func Map[T, R any](ctx context.Context, items []T, limit int, fn Mapper[T, R]) []*R {
	results := make([]*R, len(items))
	if len(items) == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}
	lanes := min(limit, len(items))

	var cursor atomic.Int64
	var g errgroup.Group
	for range lanes {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				results[i] = call(ctx, i, items[i], fn)
			}
		})
	}
	_ = g.Wait()

	return results
}

// call runs fn for one slot and absorbs errors and panics.
func call[T, R any](ctx context.Context, i int, item T, fn Mapper[T, R]) (out *R) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("fanout: mapper panicked",
				zap.Int("index", i),
				zap.String("panic", fmt.Sprint(r)),
			)
			out = nil
		}
	}()

	res, err := fn(ctx, item)
	if err != nil {
		zap.L().Debug("fanout: mapper failed",
			zap.Int("index", i),
			zap.Error(err),
		)
		return nil
	}
	return res
}

// Retry wraps fn so a failed call is retried up to extra more times, waiting
// step*attempt between tries. The last error is returned when every attempt
// fails.
func Retry[T, R any](fn Mapper[T, R], extra int, step time.Duration) Mapper[T, R] {
	if extra < 0 {
		extra = 0
	}
	cfg := resilience.RetryConfig{
		MaxAttempts: extra + 1,
		Backoff:     resilience.LinearBackoff(step),
		ShouldRetry: resilience.RetryAny,
	}
	return func(ctx context.Context, item T) (*R, error) {
		return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*R, error) {
			return fn(ctx, item)
		})
	}
}
