package server

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(burst int, interval time.Duration) (*rateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	rl := newRateLimiter(RateLimitConfig{Burst: burst, RefillInterval: interval})
	rl.now = clock.Now
	rl.lastCheck = clock.now
	return rl, clock
}

// TestRateLimiterBurst tests that the bucket starts full and empties
func TestRateLimiterBurst(t *testing.T) {
	rl, _ := newTestLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Event %d should be allowed", i+1)
		}
	}
	if rl.allow() {
		t.Error("Fourth event should be rejected")
	}
}

// TestRateLimiterRefill tests continuous refill
func TestRateLimiterRefill(t *testing.T) {
	rl, clock := newTestLimiter(2, time.Second)
	rl.allow()
	rl.allow()

	clock.advance(500 * time.Millisecond)
	if !rl.allow() {
		t.Error("Half an interval should refill one token")
	}
	if rl.allow() {
		t.Error("Bucket should be empty again")
	}

	clock.advance(time.Hour)
	for i := 0; i < 2; i++ {
		if !rl.allow() {
			t.Fatalf("Refilled bucket should allow event %d", i+1)
		}
	}
	if rl.allow() {
		t.Error("Refill must not exceed capacity")
	}
}

// TestRateLimiterDefaults tests invalid settings fall back to sane values
func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	if rl.capacity != 1 {
		t.Errorf("Expected capacity 1, got %v", rl.capacity)
	}
	if rl.rate != 1 {
		t.Errorf("Expected rate 1/s, got %v", rl.rate)
	}
}

// TestConfigSanitize tests default substitution
func TestConfigSanitize(t *testing.T) {
	origins := []string{"http://a.example"}
	cfg := Config{AllowedOrigins: origins, MaxMessageSize: -1}.sanitize()

	if cfg.Port != defaultPort {
		t.Errorf("Expected default port, got %q", cfg.Port)
	}
	if cfg.MaxMessageSize != defaultMaxMessageSize {
		t.Errorf("Expected default max message size, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("Unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.UploadMaxBytes != defaultUploadMaxBytes {
		t.Errorf("Expected default upload limit, got %d", cfg.UploadMaxBytes)
	}

	cfg.AllowedOrigins[0] = "mutated"
	if origins[0] != "http://a.example" {
		t.Error("sanitize should copy the origin slice")
	}
}
