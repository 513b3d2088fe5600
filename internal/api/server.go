package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	executer "github.com/sudankdk/aoc-runner/internal/Executer"
	"github.com/sudankdk/aoc-runner/internal/jobs"
	"github.com/sudankdk/aoc-runner/internal/leaderboard"
	"github.com/sudankdk/aoc-runner/internal/model"
)

type Config struct {
	BodyLimit    int
	UploadLimit  int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Languages is listed back to clients that ask for an unknown one.
	Languages []string
}

// JobService runs submissions in the background.
type JobService interface {
	Submit(ctx context.Context, sub executer.Submission) (jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
}

// Capacity reports how many sandbox slots are in use.
type Capacity interface {
	Active() int
	Size() int
}

type Server struct {
	app       *fiber.App
	cfg       Config
	exec      model.CodeExecutor
	submitter *Submitter
	store     leaderboard.Store
	jobs      JobService
	limiter   *RateLimiter
	capacity  Capacity
	log       *zap.Logger
}

type Option func(*Server)

func WithJobs(j JobService) Option {
	return func(s *Server) { s.jobs = j }
}

func WithRateLimiter(l *RateLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithCapacity(c Capacity) Option {
	return func(s *Server) { s.capacity = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(cfg Config, exec model.CodeExecutor, submitter *Submitter, store leaderboard.Store, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		exec:      exec,
		submitter: submitter,
		store:     store,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "aoc-runner",
		BodyLimit:             cfg.BodyLimit,
		Immutable:             true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.requestLogger)
	s.setupRoutes(s.app)
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) StartServer(addr string) error {
	s.log.Info("http server listening", zap.String("addr", addr))
	if err := s.app.Listen(addr); err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, msg = fe.Code, fe.Message
	} else {
		s.log.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	s.log.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(start)),
	)
	return err
}

// Controller merges a run into a submission's leaderboard entry.
type Controller interface {
	Execute(ctx context.Context, sub executer.Submission) (model.LeaderboardEntry, model.Report)
}

// Submitter runs a submission and records the resulting entry, whether
// or not the run succeeded.
type Submitter struct {
	ctrl  Controller
	store leaderboard.Store
}

func NewSubmitter(ctrl Controller, store leaderboard.Store) *Submitter {
	return &Submitter{ctrl: ctrl, store: store}
}

func (s *Submitter) Handle(ctx context.Context, sub executer.Submission) (model.LeaderboardEntry, model.Report, error) {
	entry, report := s.ctrl.Execute(ctx, sub)
	if err := s.store.Insert(ctx, entry); err != nil {
		return entry, report, fmt.Errorf("insert leaderboard entry: %w", err)
	}
	return entry, report, nil
}
