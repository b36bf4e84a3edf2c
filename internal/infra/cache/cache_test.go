package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/infra/cache"
)

func TestCache_FirstDeliveryWins(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	if !c.SetIfAbsent("wamid.1", "first") {
		t.Fatal("expected first delivery to be stored")
	}
	if c.SetIfAbsent("wamid.1", "redelivery") {
		t.Fatal("expected redelivery to be rejected")
	}

	val, ok := c.Get("wamid.1")
	if !ok || val != "first" {
		t.Errorf("expected 'first', got %q (ok=%v)", val, ok)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	if _, ok := c.Get("wamid.unknown"); ok {
		t.Fatal("expected cache miss for unknown id")
	}
}

func TestCache_ConcurrentRedeliveries(t *testing.T) {
	c := cache.New[struct{}](5 * time.Minute)
	defer c.Close()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SetIfAbsent("wamid.1", struct{}{}) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestCache_ExpiredIDIsAcceptedAgain(t *testing.T) {
	c := cache.New[int](30 * time.Millisecond)
	defer c.Close()

	if !c.SetIfAbsent("wamid.2", 1) {
		t.Fatal("expected first insert to succeed")
	}
	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("wamid.2"); ok {
		t.Fatal("expected entry to be expired")
	}
	if !c.SetIfAbsent("wamid.2", 2) {
		t.Fatal("expected insert after expiry to succeed")
	}
}

func TestCache_SweeperDropsExpired(t *testing.T) {
	c := cache.New[int](20 * time.Millisecond)
	defer c.Close()

	for _, id := range []string{"a", "b", "c"} {
		c.SetIfAbsent(id, 1)
	}

	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := c.Len(); n != 0 {
		t.Errorf("expected sweeper to empty the cache, %d left", n)
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := cache.New[int](time.Minute)
	c.Close()
	c.Close()
}
