package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	executer "github.com/sudankdk/aoc-runner/internal/Executer"
	"github.com/sudankdk/aoc-runner/internal/api"
	"github.com/sudankdk/aoc-runner/internal/config"
	"github.com/sudankdk/aoc-runner/internal/docker"
	"github.com/sudankdk/aoc-runner/internal/jobs"
	"github.com/sudankdk/aoc-runner/internal/languages"
	"github.com/sudankdk/aoc-runner/internal/leaderboard"
	"github.com/sudankdk/aoc-runner/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	langs := languages.NewRegistry()
	if cfg.Languages.File != "" {
		m, err := languages.Load(cfg.Languages.File)
		if err != nil {
			return fmt.Errorf("load languages: %w", err)
		}
		langs.Apply(m)
	}
	if cfg.Languages.Fallback != "" {
		if err := langs.SetFallback(cfg.Languages.Fallback); err != nil {
			return err
		}
	}

	policy, err := cfg.SandboxPolicy()
	if err != nil {
		return err
	}
	dc, err := docker.New(
		docker.WithSandbox(policy),
		docker.WithOutputLimit(cfg.OutputLimit()),
		docker.WithPullTimeout(cfg.Sandbox.PullTimeout),
		docker.WithLogger(log.Named("docker")),
	)
	if err != nil {
		return err
	}
	defer dc.Close()

	if err := dc.Ping(ctx); err != nil {
		log.Warn("docker daemon unreachable, submissions will fail until it is up", zap.Error(err))
	}

	go dc.ReapZombies(ctx, cfg.Sandbox.ReapInterval, cfg.Sandbox.ReapAge)
	if cfg.Sandbox.PreWarm {
		go func() {
			if err := dc.PreWarm(ctx, langs.Images()); err != nil {
				log.Warn("some images could not be pre-pulled", zap.Error(err))
			}
		}()
	}

	gate := docker.NewPoolManager(cfg.Sandbox.MaxConcurrent, cfg.Sandbox.QueueTimeout)
	exec := executer.NewExecutor(dc, langs, gate, log.Named("executor"))

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	submitter := api.NewSubmitter(executer.NewCodeController(exec), store)

	opts := []api.Option{api.WithLogger(log.Named("http")), api.WithCapacity(gate)}
	if cfg.RateLimit.Enabled {
		rl := api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		rl.StartCleanup(ctx, cfg.Sandbox.ReapInterval)
		opts = append(opts, api.WithRateLimiter(rl))
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		js := jobs.NewRedisStore(rdb, cfg.Redis.JobTTL)
		if err := js.Ping(ctx); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		opts = append(opts, api.WithJobs(jobs.NewService(js, submitter, log.Named("jobs"))))
		log.Info("background jobs enabled", zap.String("redis", cfg.Redis.Addr))
	}

	server := api.NewServer(api.Config{
		BodyLimit:    cfg.BodyLimit(),
		UploadLimit:  cfg.UploadLimit(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Languages:    langs.IDs(),
	}, exec, submitter, store, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.StartServer(cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (leaderboard.Store, error) {
	if cfg.Database.URL == "" {
		log.Info("no database configured, keeping the leaderboard in memory")
		return leaderboard.NewMemoryStore(), nil
	}
	store, err := leaderboard.NewPostgresStore(ctx, cfg.Database.URL, log.Named("leaderboard"))
	if err != nil {
		return nil, fmt.Errorf("open leaderboard: %w", err)
	}
	return store, nil
}
