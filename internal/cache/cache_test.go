package cache

import (
	"context"
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache()
	defer c.Close()

	c.Set("k", 42, 20*time.Millisecond)
	if v, ok := c.Get("k"); !ok || v.(int) != 42 {
		t.Fatalf("get = %v ok=%v", v, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry must miss")
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want one hit and one miss", stats)
	}
}

func TestTTLCacheDeletePrefix(t *testing.T) {
	c := NewTTLCache()
	defer c.Close()

	c.Set("EURUSD:60min:rsi:14", 1, time.Minute)
	c.Set("EURUSD:60min:atr:14", 2, time.Minute)
	c.Set("GBPUSD:60min:rsi:14", 3, time.Minute)

	if n := c.DeletePrefix("EURUSD:"); n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if _, ok := c.Get("GBPUSD:60min:rsi:14"); !ok {
		t.Error("other symbol must survive prefix delete")
	}
}

func TestSeriesTTLBands(t *testing.T) {
	cases := []struct {
		interval string
		want     time.Duration
	}{
		{"60min", TTLBarsH1},
		{"4h", TTLBarsH4},
		{"daily", TTLBarsD1},
	}
	for _, tc := range cases {
		if got := SeriesTTL(tc.interval); got != tc.want {
			t.Errorf("SeriesTTL(%s) = %v, want %v", tc.interval, got, tc.want)
		}
	}
}

func TestSuppressionCacheDegradedMode(t *testing.T) {
	// Redis disabled: the cache must work purely in memory.
	sc := NewSuppressionCache(RedisConfig{Enabled: false})
	defer sc.Close()
	ctx := context.Background()

	key := SuppressionKey("EURUSD", "bollinger-mr", "long")
	if _, ok := sc.Get(ctx, key); ok {
		t.Fatal("empty cache must miss")
	}

	sc.Set(ctx, key, SuppressionEntry{Grade: "A", Direction: "long", SentAt: time.Now()}, 50*time.Millisecond)
	e, ok := sc.Get(ctx, key)
	if !ok || e.Grade != "A" {
		t.Fatalf("get = %+v ok=%v", e, ok)
	}
	if sc.Healthy() {
		t.Error("disabled redis must not report healthy")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := sc.Get(ctx, key); ok {
		t.Error("entry must expire with its TTL")
	}
}

func TestSuppressionKeyShape(t *testing.T) {
	got := SuppressionKey("XAUUSD", "trend-rider", "short")
	if got != "alert:XAUUSD:trend-rider:short" {
		t.Errorf("key = %s", got)
	}
}
