// Package groutine starts goroutines that carry a name and optional pprof
// labels, so session workers show up distinctly in goroutine dumps and profiles.
package groutine

import (
	"context"
	"runtime/pprof"
	"strconv"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn in a new goroutine labelled with name.
// If parentCtx is nil, context.Background() is used.
//
//	groutine.Go(ctx, "session-read", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	GoLabeled(parentCtx, name, nil, fn)
}

// GoLabeled is Go with extra pprof labels (key/value pairs, e.g. the session generation).
func GoLabeled(parentCtx context.Context, name string, labels map[string]string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	kv := make([]string, 0, 2+2*len(labels))
	kv = append(kv, "goroutine_name", name)
	for k, v := range labels {
		kv = append(kv, k, v)
	}

	go pprof.Do(parentCtx, pprof.Labels(kv...), func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GenerationLabels returns the pprof labels used for session workers.
func GenerationLabels(generation uint64, deviceID string) map[string]string {
	return map[string]string{
		"session_generation": strconv.FormatUint(generation, 10),
		"device_id":          deviceID,
	}
}

// GetName retrieves the goroutine name from the context.
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

// Group tracks a set of named goroutines so an owner can wait for them to exit.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn as a named goroutine tracked by the group.
func (g *Group) Go(ctx context.Context, name string, labels map[string]string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	GoLabeled(ctx, name, labels, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Wait blocks until every goroutine started through the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
