// Package groutine starts long-lived goroutines with a pprof label, so a
// profile or goroutine dump shows which subsystem owns each one.
package groutine

import (
	"context"
	"runtime/pprof"
)

// Go runs fn on a new goroutine labelled name. A nil parentCtx means
// context.Background().
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	go pprof.Do(parentCtx, pprof.Labels("goroutine_name", name), fn)
}
