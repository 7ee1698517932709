package history

import (
	"context"
	"sync"
	"time"
)

// memrepo is the in-memory Recorder used when no DB is configured.
type memrepo struct {
	mu sync.RWMutex

	resultsByRoom map[string]*Result
	profiles      map[string]*Profile
}

func NewMemoryRecorder() Recorder {
	return &memrepo{
		resultsByRoom: make(map[string]*Result),
		profiles:      make(map[string]*Profile),
	}
}

func (m *memrepo) RecordResult(ctx context.Context, res *Result) error {
	if res == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.resultsByRoom[res.RoomID]; exists {
		return nil
	}
	copy := *res
	m.resultsByRoom[res.RoomID] = &copy

	m.bumpLocked(res.WinnerWallet, 1, 0, res.PayoutAmount-res.TokenAmount, res.FinishedAt)
	m.bumpLocked(res.LoserWallet, 0, 1, -res.TokenAmount, res.FinishedAt)
	return nil
}

func (m *memrepo) bumpLocked(wallet string, wins, losses int, earnings int64, at time.Time) {
	p, ok := m.profiles[wallet]
	if !ok {
		p = &Profile{Wallet: wallet}
		m.profiles[wallet] = p
	}
	p.Wins += wins
	p.Losses += losses
	p.Earnings += earnings
	p.LastPlayedAt = at
	p.UpdatedAt = time.Now()
}

func (m *memrepo) Profile(ctx context.Context, wallet string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[wallet]
	if !ok {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}
