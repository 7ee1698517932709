package txguard

import (
	"context"
	"fmt"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newRedisGuard(t *testing.T) *RedisGuard {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	g, err := NewRedisGuard(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisGuard: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func runGuardContract(t *testing.T, g Guard) {
	t.Helper()
	ctx := context.Background()

	seen, err := g.Seen(ctx, "sig-1")
	if err != nil || seen {
		t.Fatalf("Seen before register = %v, %v", seen, err)
	}
	first, err := g.Register(ctx, "sig-1")
	if err != nil || !first {
		t.Fatalf("first Register = %v, %v", first, err)
	}
	second, err := g.Register(ctx, "sig-1")
	if err != nil || second {
		t.Fatalf("replayed Register = %v, %v; want rejected", second, err)
	}
	seen, err = g.Seen(ctx, "sig-1")
	if err != nil || !seen {
		t.Fatalf("Seen after register = %v, %v", seen, err)
	}

	// Empty ids never register.
	if ok, _ := g.Register(ctx, "  "); ok {
		t.Fatalf("blank id registered")
	}
}

func TestMemoryGuardContract(t *testing.T) {
	runGuardContract(t, NewMemoryGuard())
}

func TestRedisGuardContract(t *testing.T) {
	runGuardContract(t, newRedisGuard(t))
}

func TestMemoryGuard_ConcurrentRegisterSingleWinner(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	const n = 32
	wins := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Register(ctx, "racing-sig")
			if err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}
