package security

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	defer rl.Stop()

	// Burst of 2 is allowed, the third immediate request is not
	if !rl.Allow("client-a") {
		t.Error("First request should be allowed")
	}
	if !rl.Allow("client-a") {
		t.Error("Second request (burst) should be allowed")
	}
	if rl.Allow("client-a") {
		t.Error("Third immediate request should be denied")
	}

	// A different identifier has its own bucket
	if !rl.Allow("client-b") {
		t.Error("Fresh identifier should be allowed")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(10, 1, nil)
	defer rl.Stop()

	if !rl.Allow("client") {
		t.Fatal("First request should be allowed")
	}
	if rl.Allow("client") {
		t.Fatal("Bucket should be empty")
	}

	// 10/s refills a token within 100ms
	time.Sleep(150 * time.Millisecond)
	if !rl.Allow("client") {
		t.Error("Request after refill should be allowed")
	}
}

func TestRateLimiterLRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}
	if rl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", rl.Len())
	}

	// client-0 is the least recently used and gets evicted
	rl.Allow("client-3")
	if rl.Len() != 3 {
		t.Errorf("Len() = %d after eviction, want 3", rl.Len())
	}

	// Evicted identifier comes back with a fresh bucket
	if !rl.Allow("client-0") {
		t.Error("Evicted identifier should get a fresh bucket")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("stale")
	rl.Allow("fresh")
	if rl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rl.Len())
	}

	// Everything is idle relative to a zero max-idle threshold
	time.Sleep(10 * time.Millisecond)
	rl.Cleanup(time.Millisecond)
	if rl.Len() != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", rl.Len())
	}
}
