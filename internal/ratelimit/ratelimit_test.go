package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateEnforcesMinimumSpacing(t *testing.T) {
	g := New(50*time.Millisecond, 0)
	var mu sync.Mutex
	var dispatches []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				dispatches = append(dispatches, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(dispatches) != 5 {
		t.Fatalf("got %d dispatches, want 5", len(dispatches))
	}
	for i := 1; i < len(dispatches); i++ {
		gap := dispatches[i].Sub(dispatches[i-1])
		if gap < 40*time.Millisecond { // small epsilon below the 50ms spacing
			t.Fatalf("dispatch %d arrived only %v after the previous, want >= ~50ms", i, gap)
		}
	}
}

func TestGateRetriesRetryableErrorsWithBackoff(t *testing.T) {
	g := New(time.Millisecond, 5)
	var attempts int32
	start := time.Now()
	err := g.Do(context.Background(), func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return &StatusError{StatusCode: 429}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("got %d attempts, want 3", attempts)
	}
	// two rate-limit backoffs at base 2s: at least ~2s+4s before success.
	if time.Since(start) < 6*time.Second {
		t.Fatalf("expected backoff delay before success, elapsed %v", time.Since(start))
	}
}

func TestGateSurfacesNonRetryableErrorImmediately(t *testing.T) {
	g := New(time.Millisecond, 3)
	wantErr := &StatusError{StatusCode: 400}
	start := time.Now()
	err := g.Do(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("non-retryable error should surface immediately, took %v", time.Since(start))
	}
}
