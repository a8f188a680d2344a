package service

import (
	"sync"
	"testing"
)

func TestTurnLock_SerializesSameKey(t *testing.T) {
	tl := newTurnLock()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := tl.acquire("c1")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestTurnLock_ReleasesEntries(t *testing.T) {
	tl := newTurnLock()
	release := tl.acquire("c1")
	release()

	tl.mu.Lock()
	n := len(tl.locks)
	tl.mu.Unlock()
	if n != 0 {
		t.Fatalf("live entries = %d, want 0", n)
	}
}

func TestTurnLock_IndependentKeys(t *testing.T) {
	tl := newTurnLock()
	r1 := tl.acquire("c1")
	// A different key must not block while c1 is held.
	done := make(chan struct{})
	go func() {
		r2 := tl.acquire("c2")
		r2()
		close(done)
	}()
	<-done
	r1()
}
