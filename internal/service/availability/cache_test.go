package availability

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salonbook/backend/internal/domain"
)

func TestCacheExpiresEntries(t *testing.T) {
	current := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	cache := NewCache(time.Second, 4, func() time.Time { return current })

	cache.Store("p1", domain.ProviderSchedule{ProviderID: "p1"})
	if _, ok := cache.Get("p1"); !ok {
		t.Fatalf("expected cache hit before expiry")
	}

	current = current.Add(2 * time.Second)
	if _, ok := cache.Get("p1"); ok {
		t.Fatalf("expected cache entry to expire")
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	cache := NewCache(time.Minute, 4, nil)
	cache.Store("p1", domain.ProviderSchedule{
		ProviderID: "p1",
		Windows:    []domain.AvailabilityWindow{{ProviderID: "p1", Start: domain.Clock(9, 0)}},
	})

	got, _ := cache.Get("p1")
	got.Windows[0].Start = domain.Clock(6, 0)

	again, _ := cache.Get("p1")
	if again.Windows[0].Start != domain.Clock(9, 0) {
		t.Fatalf("cached window mutated through returned copy")
	}
}

func TestCacheBoundsEntries(t *testing.T) {
	cache := NewCache(time.Minute, 2, nil)
	for _, id := range []string{"p1", "p2", "p3"} {
		cache.Store(id, domain.ProviderSchedule{ProviderID: id})
	}
	if n := cache.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
}

func TestCacheLoadSharesConcurrentMisses(t *testing.T) {
	cache := NewCache(time.Minute, 4, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(ctx context.Context) (domain.ProviderSchedule, error) {
		calls.Add(1)
		<-release
		return domain.ProviderSchedule{ProviderID: "p1"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Load(context.Background(), "p1", load); err != nil {
				t.Errorf("Load error: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("load calls = %d, want 1", n)
	}
	if _, ok := cache.Get("p1"); !ok {
		t.Fatalf("expected loaded schedule to be cached")
	}
}

func TestCacheInvalidateDropsInFlightLoad(t *testing.T) {
	cache := NewCache(time.Minute, 4, nil)
	_, err := cache.Load(context.Background(), "p1", func(ctx context.Context) (domain.ProviderSchedule, error) {
		cache.Invalidate("p1")
		return domain.ProviderSchedule{ProviderID: "p1"}, nil
	})
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, ok := cache.Get("p1"); ok {
		t.Fatalf("stale load was cached after invalidation")
	}
}
