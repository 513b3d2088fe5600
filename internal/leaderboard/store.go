// Package leaderboard stores merged submission entries and serves them
// ranked: fastest first, then lowest memory, then earliest submission.
// Entries whose run failed (time -1) rank after every successful one.
package leaderboard

import (
	"context"
	"errors"
	"sort"

	"github.com/sudankdk/aoc-runner/internal/model"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrInvalidFilter = errors.New("invalid leaderboard filter")

// Filter narrows a listing. Zero values mean "any".
type Filter struct {
	Year     int
	Day      int
	Language string
	Username string
	Limit    int
}

// Normalize applies the default limit and rejects out-of-range values.
func (f Filter) Normalize() (Filter, error) {
	if f.Day < 0 || f.Day > 25 || f.Year < 0 || f.Limit < 0 {
		return f, ErrInvalidFilter
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f, nil
}

func (f Filter) matches(e model.LeaderboardEntry) bool {
	return (f.Year == 0 || e.Year == f.Year) &&
		(f.Day == 0 || e.Day == f.Day) &&
		(f.Language == "" || e.Language == f.Language) &&
		(f.Username == "" || e.Username == f.Username)
}

type Store interface {
	Insert(ctx context.Context, e model.LeaderboardEntry) error
	List(ctx context.Context, f Filter) ([]model.LeaderboardEntry, error)
	Ping(ctx context.Context) error
	Close()
}

// rank sorts entries in leaderboard order and numbers them from 1.
func rank(entries []model.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if failed(a) != failed(b) {
			return !failed(a)
		}
		if a.ExecutionTimeMs != b.ExecutionTimeMs {
			return a.ExecutionTimeMs < b.ExecutionTimeMs
		}
		if a.MemoryUsageKB != b.MemoryUsageKB {
			return a.MemoryUsageKB < b.MemoryUsageKB
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

func failed(e model.LeaderboardEntry) bool {
	return e.ExecutionTimeMs < 0
}
