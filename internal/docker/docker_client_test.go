package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sudankdk/aoc-runner/internal/languages"
	"github.com/sudankdk/aoc-runner/internal/model"
)

const testContainerID = "0123456789abcdef0123"

func pythonProfile(t *testing.T) model.LanguageProfile {
	t.Helper()
	p, err := languages.NewRegistry().Lookup("python")
	require.NoError(t, err)
	return p
}

func tarNames(t *testing.T, data []byte) map[string]string {
	t.Helper()
	out := make(map[string]string)
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = string(body)
	}
}

func stats(body string) container.StatsResponseReader {
	return container.StatsResponseReader{Body: io.NopCloser(strings.NewReader(body))}
}

// echoDaemon reads n bytes of stdin and answers them on stdout, the way
// print(input()) would.
func echoDaemon(conn net.Conn, n int) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return
	}
	w := stdcopy.NewStdWriter(conn, stdcopy.Stdout)
	_, _ = w.Write(append(bytes.TrimRight(buf, "\n"), '\n'))
	conn.Close()
}

func TestRunEchoesInput(t *testing.T) {
	m := new(MockDockerClient)
	hijack, daemon := attachPipe(t)
	input := []byte("hi")

	m.On("ContainerCreate", mock.Anything,
		mock.MatchedBy(func(cfg *container.Config) bool {
			return cfg.Image == "python:3.11-slim" &&
				cfg.OpenStdin && cfg.AttachStdin &&
				cfg.WorkingDir == "/tmp" &&
				assert.ObjectsAreEqual([]string{"python", "/tmp/solution.py"}, []string(cfg.Cmd))
		}),
		mock.MatchedBy(func(hc *container.HostConfig) bool {
			return hc.NetworkMode == "none" && hc.Memory == hc.MemorySwap && *hc.PidsLimit == 100
		}),
		mock.MatchedBy(func(name string) bool { return strings.HasPrefix(name, "aoc-run-") }),
	).Return(container.CreateResponse{ID: testContainerID}, nil)
	m.On("CopyToContainer", mock.Anything, testContainerID, "/tmp", mock.MatchedBy(func(data []byte) bool {
		files := tarNames(t, data)
		return files["solution.py"] == "print(input())\n" && files["input.txt"] == "hi"
	})).Return(nil)
	m.On("ContainerAttach", mock.Anything, testContainerID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	}).Return(hijack, nil)
	m.On("ContainerStart", mock.Anything, testContainerID).Return(nil)
	status, errc := exited(0)
	m.On("ContainerWait", mock.Anything, testContainerID, container.WaitConditionNotRunning).Return(status, errc)
	m.On("ContainerInspect", mock.Anything, testContainerID).
		Return(container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{}}}, nil)
	m.On("ContainerStatsOneShot", mock.Anything, testContainerID).
		Return(stats(`{"memory_stats":{"max_usage":2097152,"usage":1048576}}`), nil)
	m.On("ContainerRemove", mock.Anything, testContainerID, container.RemoveOptions{Force: true, RemoveVolumes: true}).Return(nil)

	go echoDaemon(daemon, len(input))

	c := NewWithAPI(m)
	res, err := c.Run(context.Background(), RunSpec{
		Profile: pythonProfile(t),
		Source:  []byte("print(input())\n"),
		Input:   input,
	})

	require.NoError(t, err)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Equal(t, int64(2048), res.MemoryKB)
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))
	assert.False(t, res.OOMKilled)
	m.AssertExpectations(t)
}

// happyPath wires every call of a run that produces stdout and exits with
// code, without stdin.
func happyPath(t *testing.T, m *MockDockerClient, stdout string, code int64) {
	t.Helper()
	hijack, daemon := attachPipe(t)
	m.On("ContainerCreate", mock.Anything, mock.MatchedBy(func(cfg *container.Config) bool {
		return !cfg.OpenStdin
	}), mock.Anything, mock.Anything).Return(container.CreateResponse{ID: testContainerID}, nil)
	m.On("CopyToContainer", mock.Anything, testContainerID, "/tmp", mock.MatchedBy(func(data []byte) bool {
		_, hasInput := tarNames(t, data)["input.txt"]
		return !hasInput
	})).Return(nil)
	m.On("ContainerAttach", mock.Anything, testContainerID, mock.Anything).Return(hijack, nil)
	m.On("ContainerStart", mock.Anything, testContainerID).Return(nil).Run(func(mock.Arguments) {
		go func() {
			w := stdcopy.NewStdWriter(daemon, stdcopy.Stdout)
			_, _ = w.Write([]byte(stdout))
			daemon.Close()
		}()
	})
	status, errc := exited(code)
	m.On("ContainerWait", mock.Anything, testContainerID, container.WaitConditionNotRunning).Return(status, errc)
	m.On("ContainerInspect", mock.Anything, testContainerID).
		Return(container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{OOMKilled: code == 137}}}, nil)
}

func TestRunWithoutInput(t *testing.T) {
	m := new(MockDockerClient)
	happyPath(t, m, "42\n", 0)
	m.On("ContainerStatsOneShot", mock.Anything, testContainerID).Return(stats(`{"memory_stats":{"usage":4096}}`), nil)
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(nil)

	res, err := NewWithAPI(m).Run(context.Background(), RunSpec{Profile: pythonProfile(t), Source: []byte("print(42)\n")})
	require.NoError(t, err)
	assert.Equal(t, "42\n", res.Stdout)
	assert.Equal(t, int64(4), res.MemoryKB)
	m.AssertExpectations(t)
}

func TestRunStatsUnavailable(t *testing.T) {
	m := new(MockDockerClient)
	happyPath(t, m, "ok\n", 0)
	m.On("ContainerStatsOneShot", mock.Anything, testContainerID).
		Return(container.StatsResponseReader{}, errors.New("no such container"))
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(nil)

	res, err := NewWithAPI(m).Run(context.Background(), RunSpec{Profile: pythonProfile(t), Source: []byte("print('ok')\n")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.MemoryKB)
	require.NotNil(t, res.ExitCode)
}

func TestRunReportsOOMKill(t *testing.T) {
	m := new(MockDockerClient)
	happyPath(t, m, "", 137)
	m.On("ContainerStatsOneShot", mock.Anything, testContainerID).Return(stats(`{}`), nil)
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(nil)

	res, err := NewWithAPI(m).Run(context.Background(), RunSpec{Profile: pythonProfile(t), Source: []byte("x = ' ' * 2**30\n")})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 137, *res.ExitCode)
	assert.True(t, res.OOMKilled)
}

func TestRunTeardownFailureIsNotFatal(t *testing.T) {
	m := new(MockDockerClient)
	happyPath(t, m, "ok\n", 0)
	m.On("ContainerStatsOneShot", mock.Anything, testContainerID).Return(stats(`{}`), nil)
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(errors.New("device busy"))

	res, err := NewWithAPI(m).Run(context.Background(), RunSpec{Profile: pythonProfile(t), Source: []byte("print('ok')\n")})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
	m.AssertCalled(t, "ContainerRemove", mock.Anything, testContainerID, mock.Anything)
}

func TestRunWaitErrorLeavesExitCodeUnavailable(t *testing.T) {
	m := new(MockDockerClient)
	hijack, daemon := attachPipe(t)
	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(container.CreateResponse{ID: testContainerID}, nil)
	m.On("CopyToContainer", mock.Anything, testContainerID, "/tmp", mock.Anything).Return(nil)
	m.On("ContainerAttach", mock.Anything, testContainerID, mock.Anything).Return(hijack, nil)
	m.On("ContainerStart", mock.Anything, testContainerID).Return(nil).Run(func(mock.Arguments) {
		go daemon.Close()
	})
	errc := make(chan error, 1)
	errc <- errors.New("connection reset")
	m.On("ContainerWait", mock.Anything, testContainerID, container.WaitConditionNotRunning).
		Return(make(chan container.WaitResponse), errc)
	m.On("ContainerInspect", mock.Anything, testContainerID).Return(container.InspectResponse{}, errors.New("gone"))
	m.On("ContainerStatsOneShot", mock.Anything, testContainerID).Return(container.StatsResponseReader{}, errors.New("gone"))
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(nil)

	res, err := NewWithAPI(m).Run(context.Background(), RunSpec{Profile: pythonProfile(t), Source: []byte("pass\n")})
	require.NoError(t, err)
	assert.Nil(t, res.ExitCode)
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))
}

func TestRunTimeoutKillsAndRemoves(t *testing.T) {
	m := new(MockDockerClient)
	hijack, daemon := attachPipe(t)
	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(container.CreateResponse{ID: testContainerID}, nil)
	m.On("CopyToContainer", mock.Anything, testContainerID, "/tmp", mock.Anything).Return(nil)
	m.On("ContainerAttach", mock.Anything, testContainerID, mock.Anything).Return(hijack, nil)
	m.On("ContainerStart", mock.Anything, testContainerID).Return(nil).Run(func(mock.Arguments) {
		go func() {
			w := stdcopy.NewStdWriter(daemon, stdcopy.Stdout)
			_, _ = w.Write([]byte("partial\n"))
		}()
	})
	m.On("ContainerKill", mock.Anything, testContainerID, "SIGKILL").Return(nil)
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(nil)

	start := time.Now()
	res, err := NewWithAPI(m).Run(context.Background(), RunSpec{
		Profile: pythonProfile(t),
		Source:  []byte("while True: pass\n"),
		Timeout: 300 * time.Millisecond,
	})

	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "partial\n", res.Stdout)
	assert.Equal(t, int64(-1), res.DurationMs)
	assert.Equal(t, int64(-1), res.MemoryKB)
	assert.Nil(t, res.ExitCode)
	m.AssertCalled(t, "ContainerKill", mock.Anything, testContainerID, "SIGKILL")
	m.AssertCalled(t, "ContainerRemove", mock.Anything, testContainerID, mock.Anything)
	m.AssertNotCalled(t, "ContainerWait", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCancelled(t *testing.T) {
	m := new(MockDockerClient)
	hijack, _ := attachPipe(t)
	ctx, cancel := context.WithCancel(context.Background())
	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(container.CreateResponse{ID: testContainerID}, nil)
	m.On("CopyToContainer", mock.Anything, testContainerID, "/tmp", mock.Anything).Return(nil)
	m.On("ContainerAttach", mock.Anything, testContainerID, mock.Anything).Return(hijack, nil)
	m.On("ContainerStart", mock.Anything, testContainerID).Return(nil).Run(func(mock.Arguments) { cancel() })
	m.On("ContainerKill", mock.Anything, testContainerID, "SIGKILL").Return(errors.New("not running"))
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(nil)

	_, err := NewWithAPI(m).Run(ctx, RunSpec{Profile: pythonProfile(t), Source: []byte("pass\n"), Timeout: time.Minute})
	assert.ErrorIs(t, err, model.ErrCancelled)
	m.AssertCalled(t, "ContainerRemove", mock.Anything, testContainerID, mock.Anything)
}

func TestRunCreateFailure(t *testing.T) {
	m := new(MockDockerClient)
	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(container.CreateResponse{}, errors.New("no space left on device"))

	res, err := NewWithAPI(m).Run(context.Background(), RunSpec{Profile: pythonProfile(t), Source: []byte("pass\n")})
	assert.ErrorIs(t, err, model.ErrCreation)
	assert.Equal(t, int64(-1), res.DurationMs)
	m.AssertNotCalled(t, "ContainerRemove", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCopyFailureStillRemoves(t *testing.T) {
	m := new(MockDockerClient)
	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(container.CreateResponse{ID: testContainerID}, nil)
	m.On("CopyToContainer", mock.Anything, testContainerID, "/tmp", mock.Anything).Return(errors.New("read-only file system"))
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(nil)

	_, err := NewWithAPI(m).Run(context.Background(), RunSpec{Profile: pythonProfile(t), Source: []byte("pass\n")})
	assert.ErrorIs(t, err, model.ErrCreation)
	m.AssertExpectations(t)
}

func TestRunAttachFailure(t *testing.T) {
	m := new(MockDockerClient)
	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(container.CreateResponse{ID: testContainerID}, nil)
	m.On("CopyToContainer", mock.Anything, testContainerID, "/tmp", mock.Anything).Return(nil)
	m.On("ContainerAttach", mock.Anything, testContainerID, mock.Anything).Return(types.HijackedResponse{}, errors.New("hijack refused"))
	m.On("ContainerRemove", mock.Anything, testContainerID, mock.Anything).Return(nil)

	_, err := NewWithAPI(m).Run(context.Background(), RunSpec{Profile: pythonProfile(t), Source: []byte("pass\n")})
	assert.ErrorIs(t, err, model.ErrStream)
	m.AssertExpectations(t)
}

func TestReapOnceRemovesOnlyStaleContainers(t *testing.T) {
	m := new(MockDockerClient)
	now := time.Now()
	m.On("ContainerList", mock.Anything, mock.MatchedBy(func(opts container.ListOptions) bool {
		return opts.All && opts.Filters.ExactMatch("label", "aoc-runner=true")
	})).Return([]container.Summary{
		{ID: "stale000000000000", Created: now.Add(-time.Hour).Unix()},
		{ID: "fresh000000000000", Created: now.Unix()},
	}, nil)
	m.On("ContainerRemove", mock.Anything, "stale000000000000", container.RemoveOptions{Force: true}).Return(nil)

	n, err := NewWithAPI(m).ReapOnce(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	m.AssertNotCalled(t, "ContainerRemove", mock.Anything, "fresh000000000000", mock.Anything)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID(testContainerID))
	assert.Equal(t, "abc", shortID("abc"))
}
