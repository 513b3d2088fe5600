package docker

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/mock"
)

// MockDockerClient is a mock implementation of the Docker client for testing
type MockDockerClient struct {
	mock.Mock
}

var _ API = (*MockDockerClient)(nil)

func (m *MockDockerClient) Ping(ctx context.Context) (types.Ping, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Ping), args.Error(1)
}

func (m *MockDockerClient) ImageInspect(ctx context.Context, imageName string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	args := m.Called(ctx, imageName)
	if args.Get(0) == nil {
		return image.InspectResponse{}, args.Error(1)
	}
	return args.Get(0).(image.InspectResponse), args.Error(1)
}

func (m *MockDockerClient) ImagePull(ctx context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockDockerClient) ContainerCreate(ctx context.Context, cfg *container.Config, hc *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	args := m.Called(ctx, cfg, hc, name)
	return args.Get(0).(container.CreateResponse), args.Error(1)
}

func (m *MockDockerClient) CopyToContainer(ctx context.Context, id, dst string, content io.Reader, _ container.CopyToContainerOptions) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	return m.Called(ctx, id, dst, data).Error(0)
}

func (m *MockDockerClient) ContainerAttach(ctx context.Context, id string, opts container.AttachOptions) (types.HijackedResponse, error) {
	args := m.Called(ctx, id, opts)
	return args.Get(0).(types.HijackedResponse), args.Error(1)
}

func (m *MockDockerClient) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDockerClient) ContainerWait(ctx context.Context, id string, cond container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	args := m.Called(ctx, id, cond)
	return args.Get(0).(chan container.WaitResponse), args.Get(1).(chan error)
}

func (m *MockDockerClient) ContainerKill(ctx context.Context, id, signal string) error {
	return m.Called(ctx, id, signal).Error(0)
}

func (m *MockDockerClient) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(container.InspectResponse), args.Error(1)
}

func (m *MockDockerClient) ContainerStatsOneShot(ctx context.Context, id string) (container.StatsResponseReader, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(container.StatsResponseReader), args.Error(1)
}

func (m *MockDockerClient) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	return m.Called(ctx, id, opts).Error(0)
}

func (m *MockDockerClient) ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).([]container.Summary), args.Error(1)
}

func (m *MockDockerClient) Close() error {
	return m.Called().Error(0)
}

// attachPipe returns a hijacked response backed by an in-memory pipe and
// the daemon side of that pipe.
func attachPipe(t *testing.T) (types.HijackedResponse, net.Conn) {
	t.Helper()
	daemon, conn := net.Pipe()
	t.Cleanup(func() { daemon.Close() })
	return types.NewHijackedResponse(conn, "application/vnd.docker.multiplexed-stream"), daemon
}

func exited(code int64) (chan container.WaitResponse, chan error) {
	status := make(chan container.WaitResponse, 1)
	status <- container.WaitResponse{StatusCode: code}
	return status, make(chan error, 1)
}
