// SPDX-License-Identifier: MIT

package ingest

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
)

func validFFmpegConfig(ring *frame.Ring) FFmpegConfig {
	return FFmpegConfig{
		PipelineID: "p1",
		Ring:       ring,
		Input: InputSpec{
			URL:    "/data/clip.mp4",
			Width:  8,
			Height: 4,
			Format: frame.FormatGray,
		},
	}
}

func TestNewFFmpegSourceValidation(t *testing.T) {
	ring := frame.NewRing(4)

	cfg := validFFmpegConfig(ring)
	src, err := NewFFmpegSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", src.cfg.BinPath)
	assert.Equal(t, 3, src.cfg.MaxRestarts)

	cfg = validFFmpegConfig(ring)
	cfg.PipelineID = ""
	_, err = NewFFmpegSource(cfg)
	assert.Error(t, err)

	cfg = validFFmpegConfig(nil)
	_, err = NewFFmpegSource(cfg)
	assert.Error(t, err)

	cfg = validFFmpegConfig(ring)
	cfg.Input.URL = ""
	_, err = NewFFmpegSource(cfg)
	assert.Error(t, err)
}

func TestReadFramesSlicesExactChunks(t *testing.T) {
	ring := frame.NewRing(8)
	src, err := NewFFmpegSource(validFFmpegConfig(ring))
	require.NoError(t, err)

	size := src.cfg.Input.FrameSize()
	var raw bytes.Buffer
	for i := 0; i < 3; i++ {
		chunk := bytes.Repeat([]byte{byte(i + 1)}, size)
		raw.Write(chunk)
	}

	err = src.readFrames(context.Background(), &raw, src.cfg.Input)
	assert.ErrorIs(t, err, io.EOF)

	head, ok := ring.Head()
	require.True(t, ok)
	assert.Equal(t, uint64(3), head)

	f, ok := ring.At(3)
	require.True(t, ok)
	assert.Equal(t, byte(3), f.Pix[0])
	assert.Equal(t, size, len(f.Pix))
	assert.True(t, src.decodedAny())
}

func TestReadFramesDecimation(t *testing.T) {
	ring := frame.NewRing(16)
	cfg := validFFmpegConfig(ring)
	cfg.SkipFrames = 2 // keep every third frame
	src, err := NewFFmpegSource(cfg)
	require.NoError(t, err)

	size := src.cfg.Input.FrameSize()
	var raw bytes.Buffer
	for i := 0; i < 9; i++ {
		raw.Write(bytes.Repeat([]byte{byte(i)}, size))
	}

	err = src.readFrames(context.Background(), &raw, src.cfg.Input)
	assert.ErrorIs(t, err, io.EOF)

	head, ok := ring.Head()
	require.True(t, ok)
	assert.Equal(t, uint64(3), head, "9 raw frames at skip 2 keep 3")

	// Kept frames are the 0th, 3rd and 6th raw chunks.
	f, ok := ring.At(2)
	require.True(t, ok)
	assert.Equal(t, byte(3), f.Pix[0])
}

func TestReadFramesPartialTail(t *testing.T) {
	ring := frame.NewRing(4)
	src, err := NewFFmpegSource(validFFmpegConfig(ring))
	require.NoError(t, err)

	size := src.cfg.Input.FrameSize()
	raw := bytes.NewBuffer(bytes.Repeat([]byte{0x10}, size+size/2))

	err = src.readFrames(context.Background(), raw, src.cfg.Input)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	head, ok := ring.Head()
	require.True(t, ok)
	assert.Equal(t, uint64(1), head, "only the complete frame is pushed")
}

func TestRestartReason(t *testing.T) {
	ring := frame.NewRing(4)
	src, err := NewFFmpegSource(validFFmpegConfig(ring))
	require.NoError(t, err)

	_, ok := src.restartReason()
	assert.False(t, ok, "empty stderr is not restartable")

	src.ring.Append("[h264] some context")
	src.ring.Append("[h264] non-existing PPS 0 referenced")
	reason, ok := src.restartReason()
	assert.True(t, ok)
	assert.Equal(t, "non-existing PPS", reason)
}

func TestRestartReasonRejectsUnknownFailure(t *testing.T) {
	ring := frame.NewRing(4)
	src, err := NewFFmpegSource(validFFmpegConfig(ring))
	require.NoError(t, err)

	src.ring.Append("/data/clip.mp4: No such file or directory")
	_, ok := src.restartReason()
	assert.False(t, ok)
}

func TestDetectHWAccelModes(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", DetectHWAccel(ctx, "ffmpeg", ""))
	assert.Equal(t, "", DetectHWAccel(ctx, "ffmpeg", "none"))
	assert.Equal(t, "vaapi", DetectHWAccel(ctx, "ffmpeg", "vaapi"), "explicit method passes through")
}
