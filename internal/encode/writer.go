// SPDX-License-Identifier: MIT

// Package encode writes annotated frame sequences out as video files by
// feeding rawvideo into an ffmpeg encoder subprocess.
package encode

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/ingest"
	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/procgroup"
)

// Config describes one output file.
type Config struct {
	BinPath string
	Path    string
	Width   int
	Height  int
	Format  frame.Format

	// FPS is the timestamp rate of the encoded stream. 0 defaults to 15.
	FPS float64
	// CRF is the x264 quality factor. 0 defaults to 23.
	CRF int

	KillTimeout time.Duration
}

// Writer streams frames into an encoder process. Frames go to a temporary
// sibling of the target path; a clean Close promotes it with a rename so a
// crash never leaves a half-written file under the final name.
type Writer struct {
	cfg     Config
	tmpPath string
	cmd        *exec.Cmd
	stdin      *bufio.Writer
	pipe       interface{ Close() error }
	ring       *ingest.LineRing
	stderrDone chan struct{}

	mu     sync.Mutex
	count  int
	closed bool
}

// NewWriter validates the config and starts the encoder process.
func NewWriter(ctx context.Context, cfg Config) (*Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("encode: missing output path")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("encode: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("encode: unsupported pixel format %q", cfg.Format)
	}
	if cfg.BinPath == "" {
		cfg.BinPath = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.CRF <= 0 {
		cfg.CRF = 23
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 5 * time.Second
	}

	pf := "bgr24"
	if cfg.Format == frame.FormatGray {
		pf = "gray"
	}

	tmpPath := filepath.Join(filepath.Dir(cfg.Path), "."+filepath.Base(cfg.Path)+".tmp")
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-f", "rawvideo",
		"-pix_fmt", pf,
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", fmt.Sprintf("%g", cfg.FPS),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", fmt.Sprintf("%d", cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y", tmpPath,
	}

	cmd := exec.CommandContext(ctx, cfg.BinPath, args...) // #nosec G204 -- argv built from validated config, no shell
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = cfg.KillTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encode: stdin pipe: %w", err)
	}

	ring := ingest.NewLineRing(64)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("encode: stderr pipe: %w", err)
	}
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			ring.Append(scanner.Text())
		}
	}()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("encode: start encoder: %w", err)
	}

	logger := log.WithComponent("encode")
	logger.Debug().
		Str("path", cfg.Path).
		Str("command", cmd.String()).
		Msg("encoder started")

	return &Writer{
		cfg:        cfg,
		tmpPath:    tmpPath,
		cmd:        cmd,
		stdin:      bufio.NewWriterSize(stdin, 1<<20),
		pipe:       stdin,
		ring:       ring,
		stderrDone: stderrDone,
	}, nil
}

// WriteFrame appends one frame. Dimensions and format must match the config.
func (w *Writer) WriteFrame(f frame.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("encode: writer closed")
	}
	if f.Width != w.cfg.Width || f.Height != w.cfg.Height || f.Format != w.cfg.Format {
		return fmt.Errorf("encode: frame %dx%d %s does not match output %dx%d %s",
			f.Width, f.Height, f.Format, w.cfg.Width, w.cfg.Height, w.cfg.Format)
	}

	rowBytes := f.Width * f.Format.BytesPerPixel()
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*f.Stride : y*f.Stride+rowBytes]
		if _, err := w.stdin.Write(row); err != nil {
			return fmt.Errorf("encode: write frame: %w (%v)", err, w.ring.LastN(3))
		}
	}
	w.count++
	return nil
}

// FrameCount returns the number of frames written so far.
func (w *Writer) FrameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes stdin, waits for the encoder to finish, and promotes the
// temporary file to the final path. An encoder failure leaves no file at
// the final path.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	flushErr := w.stdin.Flush()
	if err := w.pipe.Close(); err != nil && flushErr == nil {
		flushErr = err
	}

	waitErr := w.cmd.Wait()
	<-w.stderrDone
	if flushErr != nil || waitErr != nil {
		_ = os.Remove(w.tmpPath)
		if waitErr != nil {
			return fmt.Errorf("encode: encoder exit: %w (%v)", waitErr, w.ring.LastN(5))
		}
		return fmt.Errorf("encode: flush: %w", flushErr)
	}

	if err := os.Rename(w.tmpPath, w.cfg.Path); err != nil {
		return fmt.Errorf("encode: promote output: %w", err)
	}

	logger := log.WithComponent("encode")
	logger.Info().
		Str("path", w.cfg.Path).
		Int("frames", w.FrameCount()).
		Msg("movie written")
	return nil
}

// Abort terminates the encoder and discards the temporary file.
func (w *Writer) Abort() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	_ = w.pipe.Close()
	_ = procgroup.Kill(w.cmd, syscall.SIGKILL)
	_ = w.cmd.Wait()
	_ = os.Remove(w.tmpPath)
}
