package session

import (
	"sync"
	"testing"
)

func TestGenerator_Next(t *testing.T) {
	gen := NewGenerator()

	s1 := gen.Next("abc")
	if s1 != "abc-sess-1" {
		t.Errorf("expected 'abc-sess-1', got %s", s1)
	}

	s2 := gen.Next("abc")
	if s2 != "abc-sess-2" {
		t.Errorf("expected 'abc-sess-2', got %s", s2)
	}

	s3 := gen.Next("xyz")
	if s3 != "xyz-sess-3" {
		t.Errorf("expected 'xyz-sess-3', got %s", s3)
	}
}

func TestGenerator_ThreadSafety(t *testing.T) {
	gen := NewGenerator()
	numGoroutines := 100
	perGoroutine := 10

	var wg sync.WaitGroup
	results := make(chan string, numGoroutines*perGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				results <- gen.Next("call")
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate session ID generated: %s", id)
		}
		seen[id] = true
	}

	if len(seen) != numGoroutines*perGoroutine {
		t.Errorf("expected %d unique IDs, got %d", numGoroutines*perGoroutine, len(seen))
	}
}
