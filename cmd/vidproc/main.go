// SPDX-License-Identifier: MIT

// vidproc runs a single pipeline over one input file and exits when the
// source drains: annotated movie out, evidence crops, events as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/alexeybutyrev/cv2pipeline/internal/bus"
	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	cvplog "github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/pipeline"
)

const pipelineID = "vidproc"

func main() {
	os.Exit(run())
}

func run() int {
	input := flag.String("input", "", "input video file (required)")
	out := flag.String("out", "", "annotated output movie (optional)")
	eventsPath := flag.String("events", "", "write events as JSON lines (optional)")
	evidenceDir := flag.String("evidence", "", "directory for evidence captures (optional)")
	detector := flag.String("detector", "motion", "detector type: motion, canned or remote")
	remoteEndpoint := flag.String("remote-endpoint", "", "inference endpoint for the remote detector")
	recording := flag.String("recording", "", "recording file for the canned detector")
	width := flag.Int("width", 640, "decode width")
	height := flag.Int("height", 360, "decode height")
	fps := flag.Float64("fps", 30, "decode frame rate")
	format := flag.String("format", "gray", "frame format: gray or bgr")
	ffmpegBin := flag.String("ffmpeg", "ffmpeg", "ffmpeg binary path")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "vidproc: -input is required")
		flag.Usage()
		return 2
	}

	cvplog.Configure(cvplog.Config{
		Level:   *logLevel,
		Service: "vidproc",
	})

	cfg := config.PipelineConfig{
		ID: pipelineID,
		Source: config.SourceConfig{
			Type:   "file",
			URL:    *input,
			Width:  *width,
			Height: *height,
			Format: *format,
			FPS:    *fps,
		},
		Detector: config.DetectorConfig{
			Type:          *detector,
			Endpoint:      *remoteEndpoint,
			RecordingPath: *recording,
		},
	}
	if *evidenceDir != "" {
		cfg.Capture = config.CaptureConfig{
			Enabled: true,
			Dir:     *evidenceDir,
			KeepRaw: true,
		}
	}
	if *out != "" {
		cfg.Encode = config.EncodeConfig{
			Enabled: true,
			Path:    *out,
			FPS:     *fps,
		}
	}
	config.PipelineDefaults(&cfg)

	eventBus := bus.NewMemoryBus()

	p, err := pipeline.New(cfg, *ffmpegBin, pipeline.Sinks{Bus: eventBus})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vidproc: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if *eventsPath != "" {
		sinkFile, err := os.Create(*eventsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vidproc: %v\n", err)
			return 1
		}
		defer sinkFile.Close()

		eventSub, err := eventBus.Subscribe(ctx, bus.TopicEvents(pipelineID))
		if err != nil {
			fmt.Fprintf(os.Stderr, "vidproc: %v\n", err)
			return 1
		}
		hazardSub, err := eventBus.Subscribe(ctx, bus.TopicHazards)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vidproc: %v\n", err)
			return 1
		}

		enc := json.NewEncoder(sinkFile)
		var mu sync.Mutex
		drain := func(sub bus.Subscriber) {
			defer wg.Done()
			for msg := range sub.C() {
				mu.Lock()
				_ = enc.Encode(msg)
				mu.Unlock()
			}
		}
		wg.Add(2)
		go drain(eventSub)
		go drain(hazardSub)
		defer func() {
			_ = eventSub.Close()
			_ = hazardSub.Close()
			wg.Wait()
		}()
	}

	if err := p.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vidproc: pipeline failed: %v\n", err)
		return 1
	}

	status := p.Status()
	fmt.Printf("processed %d frames (skipped %d, errors %d)\n",
		status.Watcher.Processed, status.Watcher.Skipped, status.Watcher.Errors)
	fmt.Printf("events: %d, hazards: %d, active tracks at end: %d\n",
		status.Events, status.Hazards, status.Tracks)
	if *out != "" {
		fmt.Printf("annotated movie: %s\n", *out)
	}
	if *evidenceDir != "" {
		fmt.Printf("evidence dir: %s\n", *evidenceDir)
	}
	return 0
}
