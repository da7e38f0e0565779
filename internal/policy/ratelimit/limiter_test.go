package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWaitPacesOneHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	// The first token is available immediately.
	if err := l.Wait(ctx, "https://ngmdb.example.org/Prodesc/1.html"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 10 RPS leaves 100ms until the next token.
	start := time.Now()
	if err := l.Wait(ctx, "https://ngmdb.example.org/Prodesc/2.html"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example.org/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example.org/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("host b blocked by host a")
	}
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 0.01, Burst: 1})
	if err := l.Wait(context.Background(), "https://slow.example.org"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://slow.example.org"); err == nil {
		t.Fatal("expected error once the context expires")
	}
}

func TestUnlimitedAndNil(t *testing.T) {
	t.Parallel()

	var nilLimiter *Limiter
	if err := nilLimiter.Wait(context.Background(), "https://x.example.org"); err != nil {
		t.Fatal(err)
	}
	l := New(Config{})
	for range 100 {
		if err := l.Wait(context.Background(), "https://x.example.org"); err != nil {
			t.Fatal(err)
		}
	}
}
