// SPDX-License-Identifier: MIT

package encode

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
)

// fakeEncoder writes a shell script that consumes stdin and creates the
// output file named by its final argument, standing in for ffmpeg.
func fakeEncoder(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub not available on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	body := "#!/bin/sh\n" + script + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestWriterConfigValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewWriter(ctx, Config{Width: 8, Height: 8, Format: frame.FormatBGR})
	assert.Error(t, err, "missing path")

	_, err = NewWriter(ctx, Config{Path: "/tmp/out.mp4", Width: 0, Height: 8, Format: frame.FormatBGR})
	assert.Error(t, err, "bad dimensions")

	_, err = NewWriter(ctx, Config{Path: "/tmp/out.mp4", Width: 8, Height: 8, Format: frame.Format("rgba")})
	assert.Error(t, err, "bad format")
}

func TestWriterPromotesOnCleanClose(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "run.mp4")
	bin := fakeEncoder(t, `cat > /dev/null
for last; do :; done
printf moov > "$last"`)

	w, err := NewWriter(context.Background(), Config{
		BinPath: bin,
		Path:    out,
		Width:   8,
		Height:  4,
		Format:  frame.FormatBGR,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f := frame.New(8, 4, frame.FormatBGR)
		require.NoError(t, w.WriteFrame(f))
	}
	assert.Equal(t, 3, w.FrameCount())

	require.NoError(t, w.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "moov", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be gone")
}

func TestWriterCloseIdempotent(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.mp4")
	bin := fakeEncoder(t, `cat > /dev/null
for last; do :; done
: > "$last"`)

	w, err := NewWriter(context.Background(), Config{
		BinPath: bin, Path: out, Width: 8, Height: 4, Format: frame.FormatGray,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.Error(t, w.WriteFrame(frame.New(8, 4, frame.FormatGray)), "write after close")
}

func TestWriterEncoderFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "run.mp4")
	bin := fakeEncoder(t, `cat > /dev/null
echo "x264 exploded" >&2
exit 1`)

	w, err := NewWriter(context.Background(), Config{
		BinPath: bin, Path: out, Width: 8, Height: 4, Format: frame.FormatBGR,
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(frame.New(8, 4, frame.FormatBGR)))

	err = w.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x264 exploded")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriterRejectsMismatchedFrame(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.mp4")
	bin := fakeEncoder(t, `cat > /dev/null
for last; do :; done
: > "$last"`)

	w, err := NewWriter(context.Background(), Config{
		BinPath: bin, Path: out, Width: 8, Height: 4, Format: frame.FormatBGR,
	})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.Error(t, w.WriteFrame(frame.New(16, 4, frame.FormatBGR)))
	assert.Error(t, w.WriteFrame(frame.New(8, 4, frame.FormatGray)))
}

func TestWriterAbortDiscardsTemp(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "run.mp4")
	bin := fakeEncoder(t, `cat > /dev/null
sleep 5`)

	w, err := NewWriter(context.Background(), Config{
		BinPath: bin, Path: out, Width: 8, Height: 4, Format: frame.FormatBGR,
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(frame.New(8, 4, frame.FormatBGR)))

	w.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
