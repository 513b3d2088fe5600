package executer

import (
	"context"

	"go.uber.org/zap"

	"github.com/sudankdk/aoc-runner/internal/docker"
	"github.com/sudankdk/aoc-runner/internal/languages"
	"github.com/sudankdk/aoc-runner/internal/loc"
	"github.com/sudankdk/aoc-runner/internal/logger"
	"github.com/sudankdk/aoc-runner/internal/metrics"
	"github.com/sudankdk/aoc-runner/internal/model"
)

// Runner provisions images and runs one submission in a container.
type Runner interface {
	EnsureImage(ctx context.Context, ref string) error
	Run(ctx context.Context, spec docker.RunSpec) (model.ExecutionResult, error)
}

// Gate bounds concurrent runs.
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
}

type Languages interface {
	Resolve(name, mime string) languages.Resolution
	Lookup(id string) (model.LanguageProfile, error)
}

// Executor is the single entry point for running a submission. It turns
// every failure into a Report instead of returning an error.
type Executor struct {
	runner Runner
	langs  Languages
	gate   Gate
	log    *zap.Logger
}

func NewExecutor(r Runner, langs Languages, gate Gate, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{runner: r, langs: langs, gate: gate, log: log}
}

// Run resolves the language, counts relevant lines and runs the source.
// An explicit req.Language must name a registered language; otherwise the
// language is inferred from the filename and mimetype, falling back to
// the default.
func (e *Executor) Run(ctx context.Context, req model.ExecutionRequest) model.Report {
	report := model.Report{
		ExecutionResult: model.ExecutionResult{DurationMs: -1, MemoryKB: -1},
	}

	var (
		profile model.LanguageProfile
		err     error
	)
	if req.Language != "" {
		report.Language = req.Language
		report.LanguageSource = string(languages.SourceIdentifier)
		profile, err = e.langs.Lookup(req.Language)
	} else {
		res := e.langs.Resolve(req.Filename, req.MimeType)
		profile = res.Profile
		report.Language = profile.ID
		report.LanguageSource = string(res.Source)
		report.Fallback = res.Fallback
	}
	report.RelevantLines = loc.Count(req.Source, report.Language)

	log := logger.FromContext(ctx, e.log).With(
		zap.String("language", report.Language),
		zap.String("language_source", report.LanguageSource),
	)
	if report.Fallback {
		log.Info("language not recognised, using default",
			zap.String("filename", req.Filename),
			zap.String("mimetype", req.MimeType))
	}
	if err != nil {
		return e.finish(log, report, err)
	}

	if err := e.gate.Acquire(ctx); err != nil {
		return e.finish(log, report, err)
	}
	defer e.gate.Release()

	if err := e.runner.EnsureImage(ctx, profile.Image); err != nil {
		return e.finish(log, report, err)
	}

	result, err := e.runner.Run(ctx, docker.RunSpec{
		Profile: profile,
		Source:  req.Source,
		Input:   req.Input,
	})
	report.ExecutionResult = result
	return e.finish(log, report, err)
}

func (e *Executor) finish(log *zap.Logger, r model.Report, err error) model.Report {
	r.Outcome = model.OutcomeOf(err)
	metrics.ExecutionsTotal.WithLabelValues(r.Language, string(r.Outcome)).Inc()

	if err != nil {
		r.DurationMs, r.MemoryKB = -1, -1
		r.ExitCode = nil
		r.Error = err.Error()
		log.Warn("execution failed", zap.String("outcome", string(r.Outcome)), zap.Error(err))
		return r
	}

	metrics.ExecutionDuration.WithLabelValues(r.Language).Observe(float64(r.DurationMs))
	metrics.MemoryUsage.WithLabelValues(r.Language).Observe(float64(r.MemoryKB))

	fields := []zap.Field{
		zap.Int64("duration_ms", r.DurationMs),
		zap.Int64("memory_kb", r.MemoryKB),
		zap.Int("stdout_len", len(r.Stdout)),
		zap.Int("stderr_len", len(r.Stderr)),
		zap.Bool("oom_killed", r.OOMKilled),
		zap.Bool("succeeded", r.Succeeded()),
	}
	if r.ExitCode != nil {
		fields = append(fields, zap.Int("exit_code", *r.ExitCode))
	}
	log.Info("execution finished", fields...)
	return r
}
