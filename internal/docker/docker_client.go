package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sudankdk/aoc-runner/internal/archive"
	"github.com/sudankdk/aoc-runner/internal/logger"
	"github.com/sudankdk/aoc-runner/internal/metrics"
	"github.com/sudankdk/aoc-runner/internal/model"
	"github.com/sudankdk/aoc-runner/internal/sandbox"
	"github.com/sudankdk/aoc-runner/internal/stream"
)

const (
	labelRunner   = "aoc-runner"
	labelLanguage = "aoc-runner.language"

	inputFile      = "input.txt"
	cleanupTimeout = 10 * time.Second

	DefaultPullTimeout = 5 * time.Minute
)

// API is the part of the Docker Engine client the runner drives.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

type Client struct {
	d           API
	sb          sandbox.Config
	outputLimit int
	pullTimeout time.Duration
	log         *zap.Logger
	pulls       singleflight.Group
}

type Option func(*Client)

func WithSandbox(cfg sandbox.Config) Option {
	return func(c *Client) { c.sb = cfg }
}

func WithOutputLimit(n int) Option {
	return func(c *Client) { c.outputLimit = n }
}

// WithPullTimeout bounds a shared image pull.
func WithPullTimeout(d time.Duration) Option {
	return func(c *Client) { c.pullTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New connects to the daemon described by the DOCKER_* environment.
func New(opts ...Option) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return NewWithAPI(cli, opts...), nil
}

func NewWithAPI(d API, opts ...Option) *Client {
	c := &Client{
		d:           d,
		sb:          sandbox.Default(),
		outputLimit: stream.DefaultLimit,
		pullTimeout: DefaultPullTimeout,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.d.Ping(ctx)
	return err
}

func (c *Client) Close() error {
	return c.d.Close()
}

// RunSpec is one submission ready to run. A nil Input means the container
// gets no stdin and no input file.
type RunSpec struct {
	Profile model.LanguageProfile
	Source  []byte
	Input   []byte
	Timeout time.Duration
}

// Run executes spec in a fresh container and removes the container before
// returning, whatever the outcome. On timeout the partial output is
// returned together with an error matching model.ErrTimeout.
func (c *Client) Run(ctx context.Context, spec RunSpec) (model.ExecutionResult, error) {
	res := model.ExecutionResult{DurationMs: -1, MemoryKB: -1}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = c.sb.Timeout
	}
	withStdin := spec.Input != nil
	filename := path.Join(c.sb.WorkDir, "solution."+spec.Profile.Ext)
	log := logger.FromContext(ctx, c.log).With(
		zap.String("language", spec.Profile.ID),
		zap.String("image", spec.Profile.Image),
	)

	labels := map[string]string{
		labelRunner:   "true",
		labelLanguage: spec.Profile.ID,
	}
	created, err := c.d.ContainerCreate(ctx,
		c.sb.ContainerConfig(spec.Profile.Image, spec.Profile.Cmd(filename), withStdin, labels),
		c.sb.HostConfig(),
		nil, nil, "aoc-run-"+uuid.NewString(),
	)
	if err != nil {
		return res, model.Wrap(model.ErrCreation, "create container", err)
	}
	id := created.ID
	log = log.With(zap.String("container_id", shortID(id)))
	defer c.teardown(id, log)

	if err := c.inject(ctx, id, path.Base(filename), spec); err != nil {
		return res, err
	}

	hijack, err := c.d.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  withStdin,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return res, model.Wrap(model.ErrStream, "attach", err)
	}
	var closeOnce sync.Once
	closeAttach := func() { closeOnce.Do(hijack.Close) }
	defer closeAttach()

	capture := stream.NewCapture(c.outputLimit)
	started := time.Now()
	if err := c.d.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return res, model.Wrap(model.ErrCreation, "start container", err)
	}

	if withStdin {
		go func() {
			if _, err := hijack.Conn.Write(spec.Input); err != nil {
				log.Debug("stdin write failed", zap.Error(err))
			}
			if err := hijack.CloseWrite(); err != nil {
				log.Debug("stdin close failed", zap.Error(err))
			}
		}()
	}

	copied := make(chan error, 1)
	drained := false
	go func() {
		copied <- capture.Copy(hijack.Reader)
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// abort kills the process and unblocks the copier so the partial output
	// is stable before it is read.
	abort := func(kind error, op string, cause error) (model.ExecutionResult, error) {
		c.kill(id, log)
		closeAttach()
		if !drained {
			<-copied
			drained = true
		}
		res.Stdout, res.Stderr, res.Truncated = capture.Stdout(), capture.Stderr(), capture.Truncated()
		if cause != nil {
			return res, model.Wrap(kind, op, cause)
		}
		return res, model.Fail(kind, op)
	}

	select {
	case err := <-copied:
		drained = true
		if err != nil {
			c.kill(id, log)
			return res, model.Wrap(model.ErrStream, "read output", err)
		}
	case <-deadline.C:
		log.Info("execution timed out", zap.Duration("timeout", timeout))
		return abort(model.ErrTimeout, fmt.Sprintf("run exceeded %s", timeout), nil)
	case <-ctx.Done():
		return abort(model.ErrCancelled, "run", ctx.Err())
	}

	statusCh, errCh := c.d.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case w := <-statusCh:
		if w.Error != nil {
			log.Warn("wait reported error", zap.String("error", w.Error.Message))
		}
		res.ExitCode = model.IntPtr(int(w.StatusCode))
	case err := <-errCh:
		if ctx.Err() != nil {
			return abort(model.ErrCancelled, "wait", ctx.Err())
		}
		log.Warn("wait failed, exit code unavailable", zap.Error(err))
	case <-deadline.C:
		return abort(model.ErrTimeout, fmt.Sprintf("run exceeded %s", timeout), nil)
	case <-ctx.Done():
		return abort(model.ErrCancelled, "wait", ctx.Err())
	}
	res.DurationMs = time.Since(started).Milliseconds()

	res.Stdout, res.Stderr, res.Truncated = capture.Stdout(), capture.Stderr(), capture.Truncated()
	res.OOMKilled = c.oomKilled(ctx, id, log)
	res.MemoryKB = c.peakMemoryKB(ctx, id, log)
	return res, nil
}

// inject copies the source, and the input file when present, into the
// working directory of the created container.
func (c *Client) inject(ctx context.Context, id, name string, spec RunSpec) error {
	now := time.Now()
	files := []archive.File{{Name: name, Content: spec.Source, ModTime: now}}
	if spec.Input != nil {
		files = append(files, archive.File{Name: inputFile, Content: spec.Input, ModTime: now})
	}
	tarball, err := archive.Build(files...)
	if err != nil {
		return model.Wrap(model.ErrCreation, "build archive", err)
	}
	if err := c.d.CopyToContainer(ctx, id, c.sb.WorkDir, bytes.NewReader(tarball), container.CopyToContainerOptions{}); err != nil {
		return model.Wrap(model.ErrCreation, "copy files", err)
	}
	return nil
}

func (c *Client) kill(id string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.d.ContainerKill(ctx, id, "SIGKILL"); err != nil {
		// usually the process already exited
		log.Debug("kill failed", zap.Error(err))
	}
}

// teardown runs on a fresh context so a cancelled request still cleans up.
func (c *Client) teardown(id string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	err := c.d.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil {
		metrics.TeardownFailures.Inc()
		log.Warn("container removal failed", zap.Error(err))
		return
	}
	log.Debug("container removed")
}

func (c *Client) oomKilled(ctx context.Context, id string, log *zap.Logger) bool {
	info, err := c.d.ContainerInspect(ctx, id)
	if err != nil {
		log.Debug("inspect failed", zap.Error(err))
		return false
	}
	return info.ContainerJSONBase != nil && info.State != nil && info.State.OOMKilled
}

// peakMemoryKB reads one stats sample. Missing stats are not an error:
// short-lived containers are often gone from the cgroup already.
func (c *Client) peakMemoryKB(ctx context.Context, id string, log *zap.Logger) int64 {
	reader, err := c.d.ContainerStatsOneShot(ctx, id)
	if err != nil {
		log.Debug("stats unavailable", zap.Error(err))
		return 0
	}
	defer reader.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&stats); err != nil {
		log.Debug("stats unavailable", zap.Error(err))
		return 0
	}
	peak := stats.MemoryStats.MaxUsage
	if peak == 0 {
		// cgroup v2 has no max_usage
		peak = stats.MemoryStats.Usage
	}
	return int64((peak + 512) / 1024)
}

// ReapZombies removes runner containers older than maxAge every interval
// until ctx is done. They are left behind only when a previous process
// died between create and teardown.
func (c *Client) ReapZombies(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("zombie cleanup stopped")
			return
		case <-ticker.C:
			if _, err := c.ReapOnce(ctx, maxAge); err != nil {
				c.log.Warn("container list failed", zap.Error(err))
			}
		}
	}
}

// ReapOnce is a single sweep of ReapZombies. It returns how many
// containers were removed.
func (c *Client) ReapOnce(ctx context.Context, maxAge time.Duration) (int, error) {
	containers, err := c.d.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelRunner+"=true")),
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, ctr := range containers {
		age := time.Since(time.Unix(ctr.Created, 0))
		if age < maxAge {
			continue
		}
		err := c.d.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true})
		if err != nil {
			c.log.Warn("failed to remove zombie", zap.String("container_id", shortID(ctr.ID)), zap.Error(err))
			continue
		}
		removed++
		metrics.ReapedContainers.Inc()
		c.log.Info("removed zombie container",
			zap.String("container_id", shortID(ctr.ID)),
			zap.String("language", ctr.Labels[labelLanguage]),
			zap.Duration("age", age.Round(time.Second)),
		)
	}
	return removed, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
