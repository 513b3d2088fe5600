package leaderboard

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sudankdk/aoc-runner/internal/model"
)

const pingTimeout = 10 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS leaderboard_entries (
	id                     BIGSERIAL PRIMARY KEY,
	user_id                TEXT        NOT NULL,
	username               TEXT        NOT NULL,
	year                   INTEGER     NOT NULL,
	day                    INTEGER     NOT NULL,
	part1_completed        BOOLEAN     NOT NULL DEFAULT FALSE,
	part2_completed        BOOLEAN     NOT NULL DEFAULT FALSE,
	language               TEXT        NOT NULL,
	execution_time_ms      BIGINT      NOT NULL,
	memory_usage_kb        BIGINT      NOT NULL,
	lines_of_relevant_code INTEGER     NOT NULL,
	submitted_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS leaderboard_entries_year_day ON leaderboard_entries (year, day);
`

type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgresStore connects, pings and makes sure the table exists.
func NewPostgresStore(ctx context.Context, dsn string, log *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "aoc-runner"
	cfg.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		return dialer.DialContext(ctx, network, addr)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info("database connection established")
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, e model.LeaderboardEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leaderboard_entries
			(user_id, username, year, day, part1_completed, part2_completed, language,
			 execution_time_ms, memory_usage_kb, lines_of_relevant_code, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.UserID, e.Username, e.Year, e.Day, e.Part1Completed, e.Part2Completed, e.Language,
		e.ExecutionTimeMs, e.MemoryUsageKB, e.LinesOfRelevantCode, e.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert leaderboard entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]model.LeaderboardEntry, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	query, args := listQuery(f)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LeaderboardEntry, error) {
		var e model.LeaderboardEntry
		err := row.Scan(&e.Rank, &e.UserID, &e.Username, &e.Year, &e.Day, &e.Part1Completed,
			&e.Part2Completed, &e.Language, &e.ExecutionTimeMs, &e.MemoryUsageKB,
			&e.LinesOfRelevantCode, &e.SubmittedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan leaderboard: %w", err)
	}
	return entries, nil
}

// listQuery numbers the filtered rows in leaderboard order. The ordering
// must stay in step with rank.
func listQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Year != 0 {
		add("year = $%d", f.Year)
	}
	if f.Day != 0 {
		add("day = $%d", f.Day)
	}
	if f.Language != "" {
		add("language = $%d", f.Language)
	}
	if f.Username != "" {
		add("username = $%d", f.Username)
	}

	var b strings.Builder
	b.WriteString(`SELECT ROW_NUMBER() OVER (
		ORDER BY (execution_time_ms < 0), execution_time_ms, memory_usage_kb, submitted_at
	) AS rank,
	user_id, username, year, day, part1_completed, part2_completed, language,
	execution_time_ms, memory_usage_kb, lines_of_relevant_code, submitted_at
FROM leaderboard_entries`)
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}
	args = append(args, f.Limit)
	fmt.Fprintf(&b, "\nORDER BY rank\nLIMIT $%d", len(args))
	return b.String(), args
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.log.Info("closing database connection pool")
	s.pool.Close()
}
