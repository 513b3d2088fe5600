package sandbox

import (
	"errors"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-units"
)

const (
	DefaultMemory    = 256 * units.MiB
	DefaultPidsLimit = 100
	DefaultTimeout   = 30 * time.Second
	DefaultWorkDir   = "/tmp"
	DefaultFileSize  = 20 * units.MiB
)

// Config is the resource policy applied to every submission container.
type Config struct {
	Memory    int64 // bytes; swap is pinned to the same value
	NanoCPUs  int64
	PidsLimit int64
	FileSize  int64 // largest file the process may write
	Timeout   time.Duration
	WorkDir   string
}

func Default() Config {
	return Config{
		Memory:    DefaultMemory,
		NanoCPUs:  1_000_000_000,
		PidsLimit: DefaultPidsLimit,
		FileSize:  DefaultFileSize,
		Timeout:   DefaultTimeout,
		WorkDir:   DefaultWorkDir,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Memory <= 0:
		return errors.New("sandbox: memory limit must be positive")
	case c.PidsLimit <= 0:
		return errors.New("sandbox: pids limit must be positive")
	case c.Timeout <= 0:
		return errors.New("sandbox: timeout must be positive")
	case c.WorkDir == "":
		return errors.New("sandbox: work dir is required")
	}
	return nil
}

// ContainerConfig describes the process side of a run. Stdin is attached
// only when the submission came with input.
func (c Config) ContainerConfig(image string, cmd []string, withStdin bool, labels map[string]string) *container.Config {
	return &container.Config{
		Image:           image,
		Cmd:             cmd,
		WorkingDir:      c.WorkDir,
		Labels:          labels,
		AttachStdout:    true,
		AttachStderr:    true,
		AttachStdin:     withStdin,
		OpenStdin:       withStdin,
		StdinOnce:       withStdin,
		Tty:             false,
		NetworkDisabled: true,
	}
}

// HostConfig is the isolation side: no network, no swap, bounded pids and
// file sizes, no capabilities.
func (c Config) HostConfig() *container.HostConfig {
	pids := c.PidsLimit
	return &container.HostConfig{
		AutoRemove:  false,
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     c.Memory,
			MemorySwap: c.Memory,
			NanoCPUs:   c.NanoCPUs,
			PidsLimit:  &pids,
			Ulimits: []*units.Ulimit{
				{
					Name: "nofile",
					Soft: 64,
					Hard: 128,
				},
				{
					Name: "core",
					Soft: 0,
					Hard: 0,
				},
				{
					Name: "fsize",
					Soft: c.FileSize,
					Hard: c.FileSize,
				},
			},
		},
	}
}
