// SPDX-License-Identifier: MIT

package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
	"github.com/alexeybutyrev/cv2pipeline/internal/procgroup"
)

// Source feeds decoded frames into a ring until the context is cancelled
// or the input ends.
type Source interface {
	Run(ctx context.Context) error
	FPS() float64
}

// restartAllowlist lists stderr patterns that justify a supervised restart.
// Anything else is treated as a fatal decode failure.
var restartAllowlist = []string{
	"non-existing PPS",
	"non-existing SPS",
	"no frame!",
	"decode_slice_header error",
	"Invalid NAL unit",
	"SPS unavailable",
	"PPS unavailable",
	"Connection reset by peer",
	"Connection timed out",
	"Server returned 5",
}

// FFmpegConfig configures a decoding source backed by an ffmpeg subprocess.
type FFmpegConfig struct {
	PipelineID string
	BinPath    string
	Input      InputSpec
	Ring       *frame.Ring

	// SkipFrames drops N frames after each kept one. 0 keeps every frame.
	SkipFrames int

	KillTimeout   time.Duration
	MaxRestarts   int
	StartupWindow time.Duration
}

// FFmpegSource decodes an input into raw frames via an ffmpeg subprocess
// and pushes them into the shared ring. Short-lived decode corruption
// triggers supervised restarts; a requested hardware accelerator that dies
// before producing a frame falls back to software decode.
type FFmpegSource struct {
	cfg  FFmpegConfig
	ring *LineRing

	mu     sync.Mutex
	cmd    *exec.Cmd
	meter  *frame.RateMeter
	framed bool // at least one frame was decoded in the current run
}

// NewFFmpegSource validates the config and returns a runnable source.
func NewFFmpegSource(cfg FFmpegConfig) (*FFmpegSource, error) {
	if cfg.PipelineID == "" {
		return nil, fmt.Errorf("ffmpeg source: missing pipeline id")
	}
	if cfg.Ring == nil {
		return nil, fmt.Errorf("ffmpeg source: missing frame ring")
	}
	if _, err := BuildDecodeArgs(cfg.Input); err != nil {
		return nil, fmt.Errorf("ffmpeg source: %w", err)
	}
	if cfg.BinPath == "" {
		cfg.BinPath = "ffmpeg"
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 5 * time.Second
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 3
	}
	if cfg.StartupWindow <= 0 {
		cfg.StartupWindow = 20 * time.Second
	}
	if cfg.SkipFrames < 0 {
		cfg.SkipFrames = 0
	}
	return &FFmpegSource{
		cfg:   cfg,
		ring:  NewLineRing(256),
		meter: frame.NewRateMeter(30),
	}, nil
}

// FPS reports the measured ingest rate over the recent window.
func (s *FFmpegSource) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meter.Rate()
}

// LastLogLines returns up to n recent stderr lines from the decoder.
func (s *FFmpegSource) LastLogLines(n int) []string {
	return s.ring.LastN(n)
}

// Run decodes until the input ends or ctx is cancelled. File inputs ending
// cleanly return nil; stream failures outside the restart allowlist return
// the decoder error.
func (s *FFmpegSource) Run(ctx context.Context) error {
	logger := log.WithContext(ctx, log.WithComponent("ingest"))

	accel := DetectHWAccel(ctx, s.cfg.BinPath, s.cfg.Input.HWAccel)
	input := s.cfg.Input
	input.HWAccel = accel

	for attempt := 1; ; attempt++ {
		started := time.Now()
		err := s.runOnce(ctx, input)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			logger.Info().
				Str(log.FieldPipelineID, s.cfg.PipelineID).
				Msg("input ended cleanly")
			return nil
		}

		// A hardware decoder that never produced a frame gets one
		// software retry before the normal restart policy applies.
		if input.HWAccel != "" && !s.decodedAny() {
			logger.Warn().
				Str("event", "ingest.hwaccel_fallback").
				Str(log.FieldPipelineID, s.cfg.PipelineID).
				Str("method", input.HWAccel).
				Msg("hardware decode failed before first frame, retrying with software decode (expect higher cpu cost)")
			metrics.IncDecoderRestart(s.cfg.PipelineID, "hwaccel_fallback")
			input.HWAccel = ""
			continue
		}

		reason, restartable := s.restartReason()
		uptime := time.Since(started)
		if !restartable {
			logger.Error().
				Err(err).
				Str(log.FieldPipelineID, s.cfg.PipelineID).
				Strs("stderr", s.ring.LastN(10)).
				Msg("decoder failure did not match restart allowlist")
			return fmt.Errorf("decode %s: %w", s.cfg.Input.URL, err)
		}
		if uptime > s.cfg.StartupWindow {
			// A long-running decoder hitting transient corruption restarts
			// with a fresh attempt budget.
			attempt = 0
		}
		if attempt >= s.cfg.MaxRestarts {
			logger.Error().
				Err(err).
				Str(log.FieldPipelineID, s.cfg.PipelineID).
				Int("attempts", attempt).
				Msg("max decoder restarts reached")
			return fmt.Errorf("decode %s: restarts exhausted: %w", s.cfg.Input.URL, err)
		}

		logger.Warn().
			Str(log.FieldPipelineID, s.cfg.PipelineID).
			Str("reason", reason).
			Int("attempt", attempt).
			Dur("uptime", uptime).
			Msg("restarting decoder")
		metrics.IncDecoderRestart(s.cfg.PipelineID, reason)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// decodedAny reports whether the last run produced at least one frame.
func (s *FFmpegSource) decodedAny() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framed
}

// restartReason scans recent stderr for an allowlisted failure pattern.
func (s *FFmpegSource) restartReason() (string, bool) {
	for _, line := range s.ring.LastN(20) {
		for _, pattern := range restartAllowlist {
			if strings.Contains(line, pattern) {
				return pattern, true
			}
		}
	}
	return "", false
}

func (s *FFmpegSource) runOnce(ctx context.Context, input InputSpec) error {
	logger := log.WithContext(ctx, log.WithComponent("ingest"))

	args, err := BuildDecodeArgs(input)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, s.cfg.BinPath, args...) // #nosec G204 -- argv built from validated config, no shell
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		// Graceful first; the reaper below escalates.
		return procgroup.Kill(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.KillTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.framed = false
	s.mu.Unlock()

	var ioWg sync.WaitGroup
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.ring.Append(scanner.Text())
		}
	}()

	logger.Info().
		Str(log.FieldPipelineID, s.cfg.PipelineID).
		Str("command", cmd.String()).
		Msg("starting decoder")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}

	readErr := s.readFrames(ctx, stdout, input)

	waitErr := cmd.Wait()
	ioWg.Wait()
	if waitErr != nil {
		metrics.IncProcWait("error")
	} else {
		metrics.IncProcWait("ok")
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return readErr
	}
	if waitErr != nil {
		return waitErr
	}
	// EOF with a zero exit is a file input that ran out of frames.
	return nil
}

// readFrames slices stdout into exact frame-sized chunks and pushes kept
// frames to the ring, applying read-side decimation.
func (s *FFmpegSource) readFrames(ctx context.Context, r io.Reader, input InputSpec) error {
	size := input.FrameSize()
	buf := make([]byte, size)
	seen := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}

		s.mu.Lock()
		s.framed = true
		s.mu.Unlock()

		// Decimation: keep one frame, drop the next SkipFrames.
		seen++
		if s.cfg.SkipFrames > 0 && (seen-1)%(s.cfg.SkipFrames+1) != 0 {
			continue
		}

		f := frame.New(input.Width, input.Height, input.Format)
		copy(f.Pix, buf)
		f.Timestamp = time.Now()
		s.cfg.Ring.Push(f)

		metrics.IncFramesIngested(s.cfg.PipelineID)
		s.mu.Lock()
		fps := s.meter.Tick(f.Timestamp)
		s.mu.Unlock()
		metrics.SetIngestFPS(s.cfg.PipelineID, fps)
	}
}

// Stop signals the current decoder process directly, escalating from
// SIGTERM to SIGKILL after the kill timeout. Normally cancellation of the
// Run context is enough; Stop exists for out-of-band teardown.
func (s *FFmpegSource) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if cmd.ProcessState != nil && cmd.ProcessState.Exited() {
		return
	}
	if err := procgroup.Kill(cmd, syscall.SIGTERM); err != nil {
		metrics.IncProcSignal("SIGTERM", "error")
		return
	}
	metrics.IncProcSignal("SIGTERM", "sent")

	timeout := s.cfg.KillTimeout
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		<-timer.C
		if cmd.ProcessState == nil {
			_ = procgroup.Kill(cmd, syscall.SIGKILL)
			metrics.IncProcSignal("SIGKILL", "sent")
		}
	}()
}
