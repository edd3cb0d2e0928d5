package groutine

import (
	"context"
	"runtime/pprof"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoCarriesNameAndLabels(t *testing.T) {
	type result struct {
		name  string
		gen   string
		label string
	}
	done := make(chan result, 1)

	GoLabeled(context.Background(), "session-read", GenerationLabels(7, "AA:BB"), func(ctx context.Context) {
		var r result
		r.name = GetName(ctx)
		r.gen, _ = pprof.Label(ctx, "session_generation")
		r.label, _ = pprof.Label(ctx, "goroutine_name")
		done <- r
	})

	select {
	case r := <-done:
		assert.Equal(t, "session-read", r.name)
		assert.Equal(t, "7", r.gen)
		assert.Equal(t, "session-read", r.label)
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine MUST run")
	}
}

func TestGoName(t *testing.T) {
	done := make(chan string, 1)
	Go(context.Background(), "worker", func(ctx context.Context) { done <- GetName(ctx) })
	assert.Equal(t, "worker", <-done)
	assert.Empty(t, GetName(context.Background()))
}

func TestGroupWait(t *testing.T) {
	var g Group
	var n atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 3; i++ {
		g.Go(context.Background(), "w", nil, func(context.Context) {
			<-release
			n.Add(1)
		})
	}

	waited := make(chan struct{})
	go func() {
		g.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait MUST block while goroutines run")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait MUST return once goroutines exit")
	}
	require.Equal(t, int32(3), n.Load())
}

func TestGenerationLabels(t *testing.T) {
	assert.Equal(t, map[string]string{"session_generation": "42", "device_id": "dev"}, GenerationLabels(42, "dev"))
}
