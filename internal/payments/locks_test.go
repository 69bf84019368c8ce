package payments

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(walletKey("a"), roundKey("r"))
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("expected 100 increments, got %d", counter)
	}
	if n := k.size(); n != 0 {
		t.Fatalf("expected lock table to drain, %d entries left", n)
	}
}

func TestKeyedMutexDeduplicatesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("wallet:a", "wallet:a")
	unlock()
	if n := k.size(); n != 0 {
		t.Fatalf("expected empty lock table, got %d", n)
	}
}
