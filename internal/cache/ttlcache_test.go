package cache

import (
	"testing"
	"time"
)

func TestTTLCachePutGet(t *testing.T) {
	c := New[string, int](time.Minute)
	c.PutDefault("a", 1)

	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("Get(missing) returned ok=true")
	}
}

func TestTTLCachePopRemoves(t *testing.T) {
	c := New[string, string](time.Minute)
	c.PutDefault("k", "v")

	v, ok := c.Pop("k")
	if !ok || v != "v" {
		t.Fatalf("Pop(k) = %v, %v; want v, true", v, ok)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry survived Pop")
	}
	if _, ok := c.Pop("k"); ok {
		t.Fatalf("second Pop(k) still found a value")
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := New[string, int](time.Minute)
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }

	c.PutDefault("a", 1)
	fakeNow = fakeNow.Add(2 * time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expired entry still returned by Get")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not swept, Len() = %d", c.Len())
	}
}

func TestTTLCachePutOverridesExpiry(t *testing.T) {
	c := New[string, int](time.Minute)
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }

	c.Put("a", 1, fakeNow.Add(time.Hour))
	fakeNow = fakeNow.Add(2 * time.Minute)

	if _, ok := c.Get("a"); !ok {
		t.Fatalf("entry with explicit long expiry was swept early")
	}
}

func TestTTLCacheGetOrInsertOnlyCreatesOnce(t *testing.T) {
	c := New[string, int](time.Minute)
	calls := 0
	create := func() int {
		calls++
		return 42
	}

	v1, inserted1 := c.GetOrInsert("a", create)
	v2, inserted2 := c.GetOrInsert("a", create)

	if !inserted1 || inserted2 {
		t.Fatalf("inserted flags = %v, %v; want true, false", inserted1, inserted2)
	}
	if v1 != 42 || v2 != 42 {
		t.Fatalf("values = %v, %v; want 42, 42", v1, v2)
	}
	if calls != 1 {
		t.Fatalf("create called %d times, want 1", calls)
	}
}

func TestTTLCacheEvict(t *testing.T) {
	c := New[string, int](time.Minute)
	c.PutDefault("a", 1)
	c.Evict("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("evicted entry still present")
	}
}
