// SPDX-License-Identifier: MIT

package health

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/log"
)

// FileChecker checks if a file exists and is readable
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence and readability
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{name: name, path: path}
}

func (f *FileChecker) Name() string {
	return f.name
}

func (f *FileChecker) Check(_ context.Context) CheckResult {
	if f.path == "" {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no file configured",
		}
	}

	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "file does not exist yet",
			}
		}
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("cannot stat file: %v", err),
		}
	}

	if info.IsDir() {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "path is a directory, expected file",
		}
	}

	file, err := os.Open(f.path)
	if err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("file not readable: %v", err),
		}
	}
	_ = file.Close()

	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("file OK (%d bytes)", info.Size()),
	}
}

// DirChecker verifies a directory exists and is writable by creating and
// removing a probe file.
type DirChecker struct {
	name string
	dir  string
}

// NewDirChecker creates a checker for directory writability
func NewDirChecker(name, dir string) *DirChecker {
	return &DirChecker{name: name, dir: dir}
}

func (d *DirChecker) Name() string {
	return d.name
}

func (d *DirChecker) Check(_ context.Context) CheckResult {
	if d.dir == "" {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no directory configured",
		}
	}

	info, err := os.Stat(d.dir)
	if err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("cannot stat directory: %v", err),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "path is not a directory",
		}
	}

	probe := filepath.Join(d.dir, ".write_test")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("directory not writable: %v", err),
		}
	}
	_ = os.Remove(probe)

	return CheckResult{
		Status:  StatusHealthy,
		Message: "directory writable",
	}
}

// Pinger is the subset of the event store a health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker verifies the event store answers queries.
type StoreChecker struct {
	name string
	ping Pinger
}

// NewStoreChecker creates a checker that pings the event store
func NewStoreChecker(name string, ping Pinger) *StoreChecker {
	return &StoreChecker{name: name, ping: ping}
}

func (s *StoreChecker) Name() string {
	return s.name
}

func (s *StoreChecker) Check(ctx context.Context) CheckResult {
	if s.ping == nil {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no store configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	if err := s.ping.Ping(ctx); err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("store ping failed: %v", err),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("store responsive (%.0fms)", time.Since(start).Seconds()*1000),
	}
}

// LastEventChecker reports degraded when a running pipeline has not emitted
// anything for longer than the staleness threshold. The supplier returns the
// timestamp of the most recent activity and whether any pipeline is running.
type LastEventChecker struct {
	name     string
	maxAge   time.Duration
	lastSeen func() (time.Time, bool)
}

// NewLastEventChecker creates a checker for pipeline activity staleness
func NewLastEventChecker(name string, maxAge time.Duration, lastSeen func() (time.Time, bool)) *LastEventChecker {
	return &LastEventChecker{name: name, maxAge: maxAge, lastSeen: lastSeen}
}

func (l *LastEventChecker) Name() string {
	return l.name
}

func (l *LastEventChecker) Check(_ context.Context) CheckResult {
	if l.lastSeen == nil {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no activity supplier configured",
		}
	}

	last, running := l.lastSeen()
	if !running {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no pipeline running",
		}
	}

	if last.IsZero() {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "pipeline running, no frames observed yet",
		}
	}

	age := time.Since(last)
	if age > l.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("last activity %s ago (threshold %s)", age.Round(time.Second), l.maxAge),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("last activity %s ago", age.Round(time.Second)),
	}
}

// FFmpegChecker verifies the ffmpeg binary is present. The version line is
// logged once on first successful check.
type FFmpegChecker struct {
	name    string
	binPath string

	versionOnce sync.Once
}

// NewFFmpegChecker creates a checker for ffmpeg availability
func NewFFmpegChecker(name, binPath string) *FFmpegChecker {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &FFmpegChecker{name: name, binPath: binPath}
}

func (f *FFmpegChecker) Name() string {
	return f.name
}

func (f *FFmpegChecker) Check(ctx context.Context) CheckResult {
	resolved, err := exec.LookPath(f.binPath)
	if err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("ffmpeg not found: %v", err),
		}
	}

	f.versionOnce.Do(func() {
		vctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		out, verr := exec.CommandContext(vctx, resolved, "-version").Output()
		if verr != nil {
			return
		}
		scanner := bufio.NewScanner(bytes.NewReader(out))
		if scanner.Scan() {
			logger := log.WithComponent("health")
			logger.Info().
				Str("event", "health.ffmpeg_version").
				Str("path", resolved).
				Str("version", scanner.Text()).
				Msg("ffmpeg binary detected")
		}
	})

	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("ffmpeg available at %s", resolved),
	}
}
