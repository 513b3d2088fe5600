package leaderboard

import (
	"context"
	"sync"

	"github.com/sudankdk/aoc-runner/internal/model"
)

// MemoryStore keeps entries in process. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []model.LeaderboardEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, e model.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Rank = 0
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.LeaderboardEntry, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]model.LeaderboardEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	rank(out)
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}
