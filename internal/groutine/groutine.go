package groutine

import (
	"context"
	"runtime/pprof"
	"time"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a named goroutine. The name is attached as a pprof label and can
// be read back inside fn with GetName.
//
//	groutine.Go(ctx, "tws-workq", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// Every starts a named goroutine that calls fn once per period until ctx is
// done or fn returns false. The returned channel is closed when the loop exits.
func Every(parentCtx context.Context, name string, period time.Duration, fn func(ctx context.Context) bool) <-chan struct{} {
	done := make(chan struct{})
	Go(parentCtx, name, func(ctx context.Context) {
		defer close(done)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !fn(ctx) {
					return
				}
			}
		}
	})
	return done
}

// GetName returns the name given to Go, or "" for a context not created by it.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
