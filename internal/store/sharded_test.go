package store

import (
	"fmt"
	"sync"
	"testing"
)

type counter struct {
	key string
	n   int
}

func newCounterStore(t *testing.T, shards, capacity int) *Sharded[counter] {
	t.Helper()
	s, err := NewSharded(shards, capacity, func(key string) *counter {
		return &counter{key: key}
	})
	if err != nil {
		t.Fatalf("NewSharded() error = %v", err)
	}
	return s
}

func TestNewSharded_Validation(t *testing.T) {
	newFn := func(key string) *counter { return &counter{key: key} }

	if _, err := NewSharded(0, 10, newFn); err == nil {
		t.Error("expected error for zero shards")
	}
	if _, err := NewSharded(8, 4, newFn); err == nil {
		t.Error("expected error for capacity below shard count")
	}
}

func TestSharded_UpdateCreatesAndMutates(t *testing.T) {
	s := newCounterStore(t, 4, 100)

	s.Update("a", func(c *counter) { c.n++ })
	s.Update("a", func(c *counter) { c.n++ })

	var got int
	if !s.View("a", func(c *counter) { got = c.n }) {
		t.Fatal("View(a) = false, want true")
	}
	if got != 2 {
		t.Errorf("n = %d, want 2", got)
	}
	if s.View("missing", func(*counter) {}) {
		t.Error("View(missing) = true, want false")
	}
}

func TestSharded_ModifyDoesNotCreate(t *testing.T) {
	s := newCounterStore(t, 4, 100)

	if s.Modify("a", func(c *counter) { c.n = 5 }) {
		t.Error("Modify(missing) = true, want false")
	}
	if s.Len() != 0 {
		t.Fatalf("Modify created a record")
	}

	s.Update("a", func(*counter) {})
	if !s.Modify("a", func(c *counter) { c.n = 5 }) {
		t.Fatal("Modify(existing) = false, want true")
	}
	var got int
	s.View("a", func(c *counter) { got = c.n })
	if got != 5 {
		t.Errorf("n = %d, want 5", got)
	}
}

func TestSharded_Len(t *testing.T) {
	s := newCounterStore(t, 4, 100)
	for i := 0; i < 10; i++ {
		s.Update(fmt.Sprintf("k%d", i), func(*counter) {})
	}
	s.Update("k3", func(*counter) {})
	if s.Len() != 10 {
		t.Errorf("Len() = %d, want 10", s.Len())
	}
}

func TestSharded_RangeVisitsAll(t *testing.T) {
	s := newCounterStore(t, 8, 1000)
	want := map[string]bool{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("visitor-%d", i)
		want[k] = true
		s.Update(k, func(c *counter) { c.n = 1 })
	}

	seen := map[string]bool{}
	s.Range(func(key string, c *counter) bool {
		seen[key] = true
		return true
	})
	if len(seen) != len(want) {
		t.Errorf("Range visited %d keys, want %d", len(seen), len(want))
	}

	visits := 0
	s.Range(func(string, *counter) bool {
		visits++
		return visits < 5
	})
	if visits != 5 {
		t.Errorf("Range did not stop early: %d visits", visits)
	}
}

func TestSharded_EvictsWhenFull(t *testing.T) {
	s := newCounterStore(t, 1, 3)
	for _, k := range []string{"a", "b", "c", "d"} {
		s.Update(k, func(*counter) {})
	}

	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
	if s.View("a", func(*counter) {}) {
		t.Error("oldest key should have been evicted")
	}
}

func TestSharded_ConcurrentUpdates(t *testing.T) {
	s := newCounterStore(t, 16, 10000)

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Update(fmt.Sprintf("k%d", i%10), func(c *counter) { c.n++ })
			}
		}(g)
	}
	wg.Wait()

	total := 0
	s.Range(func(_ string, c *counter) bool {
		total += c.n
		return true
	})
	if total != 2000 {
		t.Errorf("total = %d, want 2000", total)
	}
}
