// Package jobs runs submissions in the background and keeps their state in
// Redis so clients can poll for the result.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	executer "github.com/sudankdk/aoc-runner/internal/Executer"
	"github.com/sudankdk/aoc-runner/internal/model"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Job struct {
	ID          string                  `json:"id"`
	Status      Status                  `json:"status"`
	Filename    string                  `json:"file"`
	Entry       *model.LeaderboardEntry `json:"entry,omitempty"`
	Report      *model.Report           `json:"report,omitempty"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
	CompletedAt *time.Time              `json:"completedAt,omitempty"`
}

var ErrJobNotFound = errors.New("job not found")

type Store interface {
	Save(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
}

// Handler does the actual work of a job: run the submission and record
// the resulting entry.
type Handler interface {
	Handle(ctx context.Context, sub executer.Submission) (model.LeaderboardEntry, model.Report, error)
}

type Service struct {
	store   Store
	handler Handler
	log     *zap.Logger
}

func NewService(store Store, handler Handler, log *zap.Logger) *Service {
	return &Service{store: store, handler: handler, log: log}
}

// Submit stores a queued job and starts it in the background.
func (s *Service) Submit(ctx context.Context, sub executer.Submission) (Job, error) {
	now := time.Now().UTC()
	job := Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Filename:  sub.Filename,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, job); err != nil {
		return Job{}, fmt.Errorf("save job: %w", err)
	}

	go s.execute(job, sub)
	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) execute(job Job, sub executer.Submission) {
	ctx := context.Background()
	log := s.log.With(zap.String("job_id", job.ID))

	job.Status = StatusRunning
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(ctx, job); err != nil {
		log.Error("update running job", zap.Error(err))
		return
	}

	entry, report, err := s.handler.Handle(ctx, sub)

	done := time.Now().UTC()
	job.Entry, job.Report = &entry, &report
	job.UpdatedAt, job.CompletedAt = done, &done
	switch {
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
	case report.Outcome != model.OutcomeCompleted:
		job.Status = StatusFailed
		job.Error = report.Error
	default:
		job.Status = StatusSucceeded
	}

	if err := s.store.Save(ctx, job); err != nil {
		log.Error("finalize job", zap.Error(err))
	}
}

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore keeps jobs for ttl; zero keeps them forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "job:", ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, s.key(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("redis get: %w", err)
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}
