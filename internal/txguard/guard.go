// Package txguard is the global replay guard: an append-only set of
// ledger transaction signatures already consumed for payment
// verification. Register must be atomic so two racing requests for the
// same signature can never both succeed.
package txguard

import (
	"context"
	"strings"
	"sync"
)

type Guard interface {
	// Seen reports whether id is already in the set. Advisory: callers
	// still rely on Register for the authoritative check-and-insert.
	Seen(ctx context.Context, id string) (bool, error)
	// Register inserts id and reports whether this call was the first
	// to do so.
	Register(ctx context.Context, id string) (bool, error)
}

// MemoryGuard keeps the processed set in process memory. Entries are
// never removed.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]struct{})}
}

func (g *MemoryGuard) Seen(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[id]
	return ok, nil
}

func (g *MemoryGuard) Register(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return false, nil
	}
	g.seen[id] = struct{}{}
	return true, nil
}
