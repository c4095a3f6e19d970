// SPDX-License-Identifier: MIT

package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
)

func TestBuildDecodeArgs(t *testing.T) {
	tests := []struct {
		name    string
		in      InputSpec
		want    []string
		notWant []string
		wantErr bool
	}{
		{
			name: "file gray basic",
			in:   InputSpec{URL: "/data/clip.mp4", Width: 640, Height: 360, Format: frame.FormatGray},
			want: []string{
				"-nostdin", "-loglevel error", "-fflags +genpts+discardcorrupt+igndts",
				"-i /data/clip.mp4", "-map 0:v:0", "-an",
				"-vf scale=640:360", "-f rawvideo", "-pix_fmt gray", "pipe:1",
			},
			notWant: []string{"-rw_timeout", "-re", "-stream_loop", "-hwaccel"},
		},
		{
			name: "rtsp stream bgr with fps",
			in:   InputSpec{URL: "rtsp://cam/live", Width: 960, Height: 540, Format: frame.FormatBGR, FPS: 10},
			want: []string{
				"-rw_timeout 10000000",
				"-vf scale=960:540,fps=10",
				"-pix_fmt bgr24",
			},
		},
		{
			name: "looped throttled file",
			in: InputSpec{
				URL: "/data/clip.mp4", Width: 320, Height: 240, Format: frame.FormatGray,
				Loop: true, RealtimeThrottle: true,
			},
			want: []string{"-stream_loop -1", "-re"},
		},
		{
			name: "loop ignored for streams",
			in: InputSpec{
				URL: "http://cam/feed", Width: 320, Height: 240, Format: frame.FormatGray,
				Loop: true, RealtimeThrottle: true,
			},
			want:    []string{"-rw_timeout 10000000"},
			notWant: []string{"-stream_loop", "-re"},
		},
		{
			name: "hwaccel passthrough",
			in: InputSpec{
				URL: "/data/clip.mp4", Width: 320, Height: 240, Format: frame.FormatGray,
				HWAccel: "vaapi",
			},
			want: []string{"-hwaccel vaapi"},
		},
		{
			name:    "missing url",
			in:      InputSpec{Width: 320, Height: 240, Format: frame.FormatGray},
			wantErr: true,
		},
		{
			name:    "bad dimensions",
			in:      InputSpec{URL: "/data/clip.mp4", Width: 0, Height: 240, Format: frame.FormatGray},
			wantErr: true,
		},
		{
			name:    "unknown pixel format",
			in:      InputSpec{URL: "/data/clip.mp4", Width: 320, Height: 240, Format: frame.Format("yuv420p")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := BuildDecodeArgs(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			joined := strings.Join(args, " ")
			for _, w := range tt.want {
				assert.Contains(t, joined, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, joined, nw)
			}
		})
	}
}

func TestBuildDecodeArgsOrdering(t *testing.T) {
	args, err := BuildDecodeArgs(InputSpec{
		URL: "/data/clip.mp4", Width: 320, Height: 240, Format: frame.FormatGray,
	})
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	// Input options must precede -i, output options follow it.
	require.Less(t, strings.Index(joined, "-fflags"), strings.Index(joined, "-i "))
	require.Less(t, strings.Index(joined, "-i "), strings.Index(joined, "-pix_fmt"))
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestInputSpecFrameSize(t *testing.T) {
	gray := InputSpec{Width: 640, Height: 360, Format: frame.FormatGray}
	assert.Equal(t, 640*360, gray.FrameSize())

	bgr := InputSpec{Width: 640, Height: 360, Format: frame.FormatBGR}
	assert.Equal(t, 640*360*3, bgr.FrameSize())
}
