package lru

import "testing"

func TestStrategy_InvalidCapacity(t *testing.T) {
	if _, err := New[int](0); err == nil {
		t.Error("New(0) should return error")
	}
	if _, err := New[int](-1); err == nil {
		t.Error("New(-1) should return error")
	}
}

func TestStrategy_RecencyOrder(t *testing.T) {
	s, err := New[int](3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Add("a", 1)
	s.Add("b", 2)
	s.Add("c", 3)

	// Get bumps recency, Peek does not.
	s.Get("a")
	s.Peek("b")

	key, val, ok := s.RemoveOldest()
	if !ok || key != "b" || val != 2 {
		t.Errorf("RemoveOldest() = %q, %d, %v; want b, 2, true", key, val, ok)
	}

	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "c" || keys[1] != "a" {
		t.Errorf("Keys() = %v, want [c a]", keys)
	}
}

func TestStrategy_AddEvictsWhenFull(t *testing.T) {
	s, _ := New[string](2)

	if evicted := s.Add("a", "1"); evicted {
		t.Error("Add() into empty cache should not evict")
	}
	s.Add("b", "2")
	if evicted := s.Add("c", "3"); !evicted {
		t.Error("Add() into full cache should evict")
	}
	if _, ok := s.Peek("a"); ok {
		t.Error("a should have been evicted")
	}
}

func TestStrategy_RemoveAndPurge(t *testing.T) {
	s, _ := New[int](4)
	s.Add("a", 1)
	s.Add("b", 2)

	if !s.Remove("a") {
		t.Error("Remove(a) = false, want true")
	}
	if s.Remove("a") {
		t.Error("second Remove(a) = true, want false")
	}

	s.Purge()
	if s.Len() != 0 {
		t.Errorf("Len() after Purge = %d, want 0", s.Len())
	}
}
