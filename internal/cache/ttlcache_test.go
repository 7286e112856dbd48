package cache

import (
	"testing"
	"time"
)

func TestTTLCache_SetGetRoundTrip(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Stop()

	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v.(int) != 1 {
		t.Fatalf("expected hit with value 1, got %v %v", v, ok)
	}
}

func TestTTLCache_ExpiredEntryIsAMiss(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Stop()

	c.Set("a", 1)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestTTLCache_NeverExceedsCapacity(t *testing.T) {
	c := New(time.Minute, 5)
	defer c.Stop()

	for i := 0; i < 50; i++ {
		c.Set(string(rune('a'+i%26))+string(rune(i)), i)
		if n := c.GetStats().Size; n > 5 {
			t.Fatalf("cache size %d exceeds capacity 5", n)
		}
	}
}

func TestTTLCache_DeleteByPrefix(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Stop()

	c.Set("chunk:1", "a")
	c.Set("chunk:2", "b")
	c.Set("retrieval:1", "c")

	c.DeleteByPrefix("chunk:")

	if c.Has("chunk:1") || c.Has("chunk:2") {
		t.Fatalf("expected chunk: keys to be removed")
	}
	if !c.Has("retrieval:1") {
		t.Fatalf("expected retrieval:1 to survive prefix delete")
	}
}

func TestTTLCache_SetManyGetMany(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Stop()

	c.SetMany(map[string]any{"x": 1, "y": 2, "z": 3})
	got := c.GetMany([]string{"x", "y", "missing"})
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
}

func TestTTLCache_ClearEmptiesCache(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Stop()

	c.Set("a", 1)
	c.Clear()
	if c.GetStats().Size != 0 {
		t.Fatalf("expected empty cache after Clear")
	}
}

func TestTTLCache_StatsTracksHitsAndMisses(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Stop()

	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", stats)
	}
}
