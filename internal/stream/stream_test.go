package stream

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type part struct {
	stream stdcopy.StdType
	data   string
}

func frames(t *testing.T, parts ...part) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range parts {
		w := stdcopy.NewStdWriter(&buf, p.stream)
		_, err := w.Write([]byte(p.data))
		require.NoError(t, err)
	}
	return &buf
}

func TestCopySplitsChannels(t *testing.T) {
	src := frames(t,
		part{stdcopy.Stdout, "hello "},
		part{stdcopy.Stderr, "warning: x\n"},
		part{stdcopy.Stdout, "world\n"},
		part{stdcopy.Stderr, "done\n"},
	)

	c := NewCapture(0)
	require.NoError(t, c.Copy(src))
	assert.Equal(t, "hello world\n", c.Stdout())
	assert.Equal(t, "warning: x\ndone\n", c.Stderr())
	assert.False(t, c.Truncated())
}

func TestCopyHandBuiltHeader(t *testing.T) {
	payload := []byte("hi\n")
	header := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))

	c := NewCapture(0)
	require.NoError(t, c.Copy(bytes.NewReader(append(header, payload...))))
	assert.Equal(t, "hi\n", c.Stdout())
	assert.Empty(t, c.Stderr())
}

func TestCopyCapsOutput(t *testing.T) {
	src := frames(t,
		part{stdcopy.Stdout, strings.Repeat("a", 6)},
		part{stdcopy.Stderr, "err"},
		part{stdcopy.Stdout, strings.Repeat("b", 6)},
	)

	c := NewCapture(8)
	require.NoError(t, c.Copy(src))
	assert.Equal(t, "aaaaaabb", c.Stdout())
	assert.Equal(t, "err", c.Stderr())
	assert.True(t, c.Truncated())
}

func TestCopyEmptyStream(t *testing.T) {
	c := NewCapture(0)
	require.NoError(t, c.Copy(bytes.NewReader(nil)))
	assert.Empty(t, c.Stdout())
	assert.Empty(t, c.Stderr())
}

func TestCopyMalformedStream(t *testing.T) {
	c := NewCapture(0)
	err := c.Copy(bytes.NewReader([]byte{9, 0, 0, 0, 0, 0, 0, 1, 'x'}))
	assert.Error(t, err)
}
