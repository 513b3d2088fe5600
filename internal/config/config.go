// Package config loads the runner's YAML configuration and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/sudankdk/aoc-runner/internal/logger"
	"github.com/sudankdk/aoc-runner/internal/sandbox"
)

const (
	defaultAddr            = "0.0.0.0:3001"
	defaultBodyLimit       = "4m"
	defaultUploadLimit     = "1m"
	defaultOutputLimit     = "1m"
	defaultShutdownTimeout = 10 * time.Second
	defaultQueueTimeout    = 5 * time.Second
	defaultMaxConcurrent   = 10
	defaultReapInterval    = time.Minute
	defaultReapAge         = 10 * time.Minute
	defaultJobTTL          = 24 * time.Hour
	defaultPullTimeout     = 5 * time.Minute
)

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BodyLimit       string        `yaml:"bodyLimit"`
	UploadLimit     string        `yaml:"uploadLimit"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SandboxConfig is the YAML form of sandbox.Config; sizes are human
// readable ("256m").
type SandboxConfig struct {
	Memory        string        `yaml:"memory"`
	CPUs          float64       `yaml:"cpus"`
	PidsLimit     int64         `yaml:"pidsLimit"`
	FileSize      string        `yaml:"fileSize"`
	OutputLimit   string        `yaml:"outputLimit"`
	Timeout       time.Duration `yaml:"timeout"`
	WorkDir       string        `yaml:"workDir"`
	MaxConcurrent int           `yaml:"maxConcurrent"`
	QueueTimeout  time.Duration `yaml:"queueTimeout"`
	PullTimeout   time.Duration `yaml:"pullTimeout"`
	ReapInterval  time.Duration `yaml:"reapInterval"`
	ReapAge       time.Duration `yaml:"reapAge"`
	PreWarm       bool          `yaml:"preWarm"`
}

type LanguagesConfig struct {
	File     string `yaml:"file"`
	Fallback string `yaml:"fallback"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	JobTTL   time.Duration `yaml:"jobTTL"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Logger    logger.Config   `yaml:"logger"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Languages LanguagesConfig `yaml:"languages"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

func Default() AppConfig {
	sb := sandbox.Default()
	return AppConfig{
		Server: ServerConfig{
			Addr:            defaultAddr,
			BodyLimit:       defaultBodyLimit,
			UploadLimit:     defaultUploadLimit,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logger: logger.Config{Level: "info", Format: "console", OutputPath: "stdout"},
		Sandbox: SandboxConfig{
			Memory:        units.BytesSize(float64(sb.Memory)),
			CPUs:          float64(sb.NanoCPUs) / 1e9,
			PidsLimit:     sb.PidsLimit,
			FileSize:      units.BytesSize(float64(sb.FileSize)),
			OutputLimit:   defaultOutputLimit,
			Timeout:       sb.Timeout,
			WorkDir:       sb.WorkDir,
			MaxConcurrent: defaultMaxConcurrent,
			QueueTimeout:  defaultQueueTimeout,
			PullTimeout:   defaultPullTimeout,
			ReapInterval:  defaultReapInterval,
			ReapAge:       defaultReapAge,
			PreWarm:       true,
		},
		Redis:     RedisConfig{JobTTL: defaultJobTTL},
		RateLimit: RateLimitConfig{Enabled: true, RPS: 2, Burst: 5},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return AppConfig{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() error {
	c.Server.Addr = getEnv("RUNNER_ADDR", c.Server.Addr)
	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Sandbox.Memory = getEnv("SANDBOX_MEMORY", c.Sandbox.Memory)

	var err error
	if c.Sandbox.Timeout, err = getDuration("SANDBOX_TIMEOUT", c.Sandbox.Timeout); err != nil {
		return err
	}
	if c.Sandbox.MaxConcurrent, err = getInt("SANDBOX_MAX_CONCURRENT", c.Sandbox.MaxConcurrent); err != nil {
		return err
	}
	return nil
}

func (c AppConfig) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	for name, v := range map[string]string{
		"server.bodyLimit":    c.Server.BodyLimit,
		"server.uploadLimit":  c.Server.UploadLimit,
		"sandbox.outputLimit": c.Sandbox.OutputLimit,
	} {
		if _, err := size(name, v); err != nil {
			return err
		}
	}
	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.maxConcurrent must be positive, got %d", c.Sandbox.MaxConcurrent)
	}
	if c.Sandbox.QueueTimeout < 0 {
		return errors.New("sandbox.queueTimeout must not be negative")
	}
	if c.Sandbox.ReapInterval <= 0 || c.Sandbox.ReapAge <= 0 {
		return errors.New("sandbox.reapInterval and sandbox.reapAge must be positive")
	}
	if c.Sandbox.PullTimeout <= 0 {
		return errors.New("sandbox.pullTimeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdownTimeout must be positive")
	}
	if c.Redis.JobTTL < 0 {
		return errors.New("redis.jobTTL must not be negative")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rateLimit.rps and rateLimit.burst must be positive")
	}
	sb, err := c.SandboxPolicy()
	if err != nil {
		return err
	}
	return sb.Validate()
}

// SandboxPolicy converts the sandbox section into a sandbox.Config.
func (c AppConfig) SandboxPolicy() (sandbox.Config, error) {
	mem, err := size("sandbox.memory", c.Sandbox.Memory)
	if err != nil {
		return sandbox.Config{}, err
	}
	fsize, err := size("sandbox.fileSize", c.Sandbox.FileSize)
	if err != nil {
		return sandbox.Config{}, err
	}
	return sandbox.Config{
		Memory:    mem,
		NanoCPUs:  int64(c.Sandbox.CPUs * 1e9),
		PidsLimit: c.Sandbox.PidsLimit,
		FileSize:  fsize,
		Timeout:   c.Sandbox.Timeout,
		WorkDir:   c.Sandbox.WorkDir,
	}, nil
}

func (c AppConfig) BodyLimit() int {
	n, _ := size("server.bodyLimit", c.Server.BodyLimit)
	return int(n)
}

func (c AppConfig) UploadLimit() int64 {
	n, _ := size("server.uploadLimit", c.Server.UploadLimit)
	return n
}

func (c AppConfig) OutputLimit() int {
	n, _ := size("sandbox.outputLimit", c.Sandbox.OutputLimit)
	return int(n)
}

func size(name, v string) (int64, error) {
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", name, v)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
