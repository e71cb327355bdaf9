package cache

import (
	"expvar"
	"fmt"
	"reflect"
	"testing"
)

func TestNewLRU(t *testing.T) {
	c := NewLRU[string, int](10, nil)
	if c == nil {
		t.Fatal("NewLRU returned nil")
	}
	if c.capacity != 10 {
		t.Errorf("Expected capacity 10, got %d", c.capacity)
	}
	if c.Len() != 0 {
		t.Errorf("Expected empty cache, got length %d", c.Len())
	}

	disabled := NewLRU[string, int](0, nil)
	disabled.Put("a", 1)
	if _, ok := disabled.Get("a"); ok {
		t.Error("Expected disabled cache to never return values")
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	const capacity = 30
	var evicted []string
	c := NewLRU[string, int](capacity, func(key string, _ int) {
		evicted = append(evicted, key)
	})

	for i := 0; i < capacity; i++ {
		c.Put(fmt.Sprintf("key%d", i), i)
	}
	// key0 is the oldest insert, but retrieving it makes key1 the LRU entry.
	if _, ok := c.Get("key0"); !ok {
		t.Fatal("key0 should be cached")
	}
	c.Put("extra", capacity)

	if !reflect.DeepEqual(evicted, []string{"key1"}) {
		t.Fatalf("Expected exactly key1 to be evicted, got %v", evicted)
	}
	if c.Len() != capacity {
		t.Errorf("Expected length %d, got %d", capacity, c.Len())
	}
	if _, ok := c.Get("key1"); ok {
		t.Error("key1 should have been evicted")
	}
	for _, k := range []string{"key0", "extra", "key29"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestLRU_PutExistingUpdatesValue(t *testing.T) {
	c := NewLRU[string, string](2, nil)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("a", "3")
	c.Put("c", "4") // evicts b, since a was refreshed by the second Put

	if v, ok := c.Get("a"); !ok || v != "3" {
		t.Errorf("Expected a=3, got %q (found %v)", v, ok)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if got := c.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Expected MRU order [a c], got %v", got)
	}
}

func TestLRU_RemoveAndClear(t *testing.T) {
	closed := map[string]bool{}
	c := NewLRU[string, int](5, func(key string, _ int) { closed[key] = true })
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	if !c.Remove("b") {
		t.Fatal("Remove(b) returned false")
	}
	if c.Remove("b") {
		t.Error("second Remove(b) should return false")
	}
	if !closed["b"] {
		t.Error("onEvicted should run on Remove")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", c.Len())
	}
	if !closed["a"] || !closed["c"] {
		t.Errorf("onEvicted should run for every cleared entry, got %v", closed)
	}
}

func TestLRU_Metrics(t *testing.T) {
	c := NewLRU[string, int](2, nil)
	hits, misses := new(expvar.Int), new(expvar.Int)
	c.SetMetrics(hits, misses)

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("zzz")

	if hits.Value() != 2 || misses.Value() != 1 {
		t.Errorf("Expected 2 hits and 1 miss, got %d and %d", hits.Value(), misses.Value())
	}
	if rate := c.GetHitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("Expected hit rate 2/3, got %f", rate)
	}
}
