// SPDX-License-Identifier: MIT

package ingest

import (
	"fmt"
	"strings"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
)

// InputSpec describes one decode invocation: where the video comes from and
// the exact rawvideo layout expected on stdout.
type InputSpec struct {
	URL    string
	Width  int
	Height int
	Format frame.Format
	// FPS resamples the output frame rate; 0 keeps the native rate.
	FPS float64
	// Loop re-reads file inputs forever (soak setups on short clips).
	Loop bool
	// RealtimeThrottle reads file inputs at their native rate instead of as
	// fast as the decoder can go.
	RealtimeThrottle bool
	// HWAccel names an ffmpeg -hwaccel method; empty means software decode.
	HWAccel string
}

// pixFmt maps the frame format to the ffmpeg rawvideo pixel format.
func pixFmt(f frame.Format) (string, error) {
	switch f {
	case frame.FormatGray:
		return "gray", nil
	case frame.FormatBGR:
		return "bgr24", nil
	default:
		return "", fmt.Errorf("unsupported pixel format %q", f)
	}
}

// isStream reports whether the input is a network stream rather than a
// local file.
func isStream(url string) bool {
	for _, scheme := range []string{"http://", "https://", "rtsp://", "rtmp://", "udp://"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

// BuildDecodeArgs constructs the ffmpeg argv for decoding the input to
// packed rawvideo frames on stdout. No shell is ever involved; the caller
// passes the slice straight to exec.
func BuildDecodeArgs(in InputSpec) ([]string, error) {
	if in.URL == "" {
		return nil, fmt.Errorf("missing input url")
	}
	if in.Width <= 0 || in.Height <= 0 {
		return nil, fmt.Errorf("invalid output dimensions %dx%d", in.Width, in.Height)
	}
	pf, err := pixFmt(in.Format)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",

		// Robustness against noisy sources: generate missing PTS, drop
		// corrupt packets, ignore broken DTS.
		"-fflags", "+genpts+discardcorrupt+igndts",
		"-err_detect", "ignore_err",
	}

	if in.HWAccel != "" && in.HWAccel != "none" {
		args = append(args, "-hwaccel", in.HWAccel)
	}

	if in.Loop && !isStream(in.URL) {
		args = append(args, "-stream_loop", "-1")
	}
	if in.RealtimeThrottle && !isStream(in.URL) {
		args = append(args, "-re")
	}
	if isStream(in.URL) {
		args = append(args, "-rw_timeout", "10000000") // 10s in microseconds
	}

	args = append(args, "-i", in.URL)

	filters := []string{fmt.Sprintf("scale=%d:%d", in.Width, in.Height)}
	if in.FPS > 0 {
		filters = append(filters, fmt.Sprintf("fps=%g", in.FPS))
	}

	args = append(args,
		"-map", "0:v:0",
		"-an", // audio is never consumed
		"-vf", strings.Join(filters, ","),
		"-f", "rawvideo",
		"-pix_fmt", pf,
		"pipe:1",
	)
	return args, nil
}

// FrameSize returns the byte length of one rawvideo frame for this input.
func (in InputSpec) FrameSize() int {
	return in.Width * in.Height * in.Format.BytesPerPixel()
}
