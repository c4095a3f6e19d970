// SPDX-License-Identifier: MIT

// Package track correlates per-frame detections into stable object tracks,
// estimates their velocity and raises proximity hazards between configured
// class pairs. All positions are normalised to [0,1] so distance thresholds
// carry across resolutions.
package track

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

const (
	defaultDistThreshold  = 0.05
	defaultMaxMisses      = 15
	defaultHazardDistance = 0.1
	defaultCooldown       = 5 * time.Second
	defaultHorizon        = 500 * time.Millisecond
	velocityAlpha         = 0.4
)

// Config tunes the tracker.
type Config struct {
	// DistThreshold is the maximum normalised centroid distance for a
	// detection to continue an existing track.
	DistThreshold float64 `json:"dist_threshold" yaml:"dist_threshold"`
	// MaxMisses evicts a track after this many frames without a match.
	MaxMisses int `json:"max_misses" yaml:"max_misses"`
	// HazardPairs lists class pairs whose proximity raises a hazard.
	HazardPairs [][2]string `json:"hazard_pairs" yaml:"hazard_pairs"`
	// HazardDistance is the normalised distance below which a pair is
	// considered dangerously close.
	HazardDistance float64 `json:"hazard_distance" yaml:"hazard_distance"`
	// Cooldown suppresses repeat hazards for the same pair.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
	// PredictHorizon is how far ahead positions are extrapolated when
	// checking predicted proximity.
	PredictHorizon time.Duration `json:"predict_horizon" yaml:"predict_horizon"`
}

func (c Config) withDefaults() Config {
	if c.DistThreshold <= 0 {
		c.DistThreshold = defaultDistThreshold
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = defaultMaxMisses
	}
	if c.HazardDistance <= 0 {
		c.HazardDistance = defaultHazardDistance
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.PredictHorizon <= 0 {
		c.PredictHorizon = defaultHorizon
	}
	return c
}

// Track is one object followed across frames.
type Track struct {
	ID       string       `json:"id"`
	Class    string       `json:"class"`
	Center   detect.Point `json:"center"`
	Box      detect.Rect  `json:"box"`
	Velocity detect.Point `json:"velocity"` // normalised units per second
	LastSeen time.Time    `json:"last_seen"`
	LastSeq  uint64       `json:"last_seq"`
	Age      int          `json:"age"`    // matched frames
	Misses   int          `json:"misses"` // consecutive unmatched frames
}

// Hazard is a dangerous proximity between two tracked objects.
type Hazard struct {
	ID        string    `json:"id"`
	Tracks    [2]Track  `json:"tracks"`
	Classes   [2]string `json:"classes"`
	Distance  float64   `json:"distance"`
	Predicted bool      `json:"predicted"` // true when raised on extrapolated positions
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// PairKey returns the canonical "a|b" label for metrics and debouncing.
func (h Hazard) PairKey() string {
	a, b := h.Classes[0], h.Classes[1]
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Tracker matches detections to tracks frame by frame. Safe for concurrent
// use; Update holds the lock for the whole matching pass.
type Tracker struct {
	pipelineID string
	cfg        Config

	mu        sync.Mutex
	tracks    map[string]*Track
	nextID    uint64
	lastFired map[string]time.Time
}

// New creates a tracker with defaults applied.
func New(pipelineID string, cfg Config) *Tracker {
	return &Tracker{
		pipelineID: pipelineID,
		cfg:        cfg.withDefaults(),
		tracks:     make(map[string]*Track),
		lastFired:  make(map[string]time.Time),
	}
}

func distance(a, b detect.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

type candidate struct {
	trackID string
	detIdx  int
	dist    float64
}

// Update matches the frame's detections against live tracks: best matches
// first, one detection per track, spawning tracks for leftovers and ageing
// out tracks that keep missing. It returns the tracks touched this frame.
func (t *Tracker) Update(ts time.Time, seq uint64, dets []detect.Detection) []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Gather all candidate pairings within the threshold.
	var cands []candidate
	for id, tr := range t.tracks {
		for i, d := range dets {
			if d.Class != tr.Class {
				continue
			}
			if dist := distance(tr.Center, d.Center); dist <= t.cfg.DistThreshold {
				cands = append(cands, candidate{trackID: id, detIdx: i, dist: dist})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

	matchedTrack := make(map[string]bool, len(cands))
	matchedDet := make(map[int]bool, len(dets))
	var touched []Track

	for _, c := range cands {
		if matchedTrack[c.trackID] || matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackID] = true
		matchedDet[c.detIdx] = true

		tr := t.tracks[c.trackID]
		d := dets[c.detIdx]
		dt := ts.Sub(tr.LastSeen).Seconds()
		if dt > 0 {
			vx := (d.Center.X - tr.Center.X) / dt
			vy := (d.Center.Y - tr.Center.Y) / dt
			tr.Velocity.X = (1-velocityAlpha)*tr.Velocity.X + velocityAlpha*vx
			tr.Velocity.Y = (1-velocityAlpha)*tr.Velocity.Y + velocityAlpha*vy
		}
		tr.Center = d.Center
		tr.Box = d.Box
		tr.LastSeen = ts
		tr.LastSeq = seq
		tr.Age++
		tr.Misses = 0
		touched = append(touched, *tr)
	}

	// Unmatched detections start new tracks.
	for i, d := range dets {
		if matchedDet[i] {
			continue
		}
		t.nextID++
		tr := &Track{
			ID:       fmt.Sprintf("t%06d", t.nextID),
			Class:    d.Class,
			Center:   d.Center,
			Box:      d.Box,
			LastSeen: ts,
			LastSeq:  seq,
			Age:      1,
		}
		t.tracks[tr.ID] = tr
		touched = append(touched, *tr)
	}

	// Unmatched tracks accumulate misses and eventually age out.
	for id, tr := range t.tracks {
		if matchedTrack[id] || tr.LastSeq == seq {
			continue
		}
		tr.Misses++
		if tr.Misses > t.cfg.MaxMisses {
			delete(t.tracks, id)
		}
	}

	metrics.SetTracksActive(t.pipelineID, len(t.tracks))
	return touched
}

// Predict extrapolates the track position by the given horizon, clamped to
// the frame.
func Predict(tr Track, horizon time.Duration) detect.Point {
	s := horizon.Seconds()
	p := detect.Point{
		X: tr.Center.X + tr.Velocity.X*s,
		Y: tr.Center.Y + tr.Velocity.Y*s,
	}
	p.X = math.Min(1, math.Max(0, p.X))
	p.Y = math.Min(1, math.Max(0, p.Y))
	return p
}

// Hazards evaluates every configured class pair over the current tracks and
// returns at most one hazard per pair per cooldown window. Both the current
// and the predicted positions are checked; a predicted-only breach is
// flagged accordingly.
func (t *Tracker) Hazards(ts time.Time, seq uint64) []Hazard {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Hazard
	for _, pair := range t.cfg.HazardPairs {
		best, ok := t.closestPair(pair)
		if !ok {
			continue
		}

		cur := distance(best[0].Center, best[1].Center)
		pred := distance(
			Predict(best[0], t.cfg.PredictHorizon),
			Predict(best[1], t.cfg.PredictHorizon),
		)
		if cur > t.cfg.HazardDistance && pred > t.cfg.HazardDistance {
			continue
		}

		h := Hazard{
			Tracks:    best,
			Classes:   [2]string{best[0].Class, best[1].Class},
			Distance:  cur,
			Predicted: cur > t.cfg.HazardDistance,
			Timestamp: ts,
			Seq:       seq,
		}
		if h.Predicted {
			h.Distance = pred
		}

		key := h.PairKey()
		if last, fired := t.lastFired[key]; fired && ts.Sub(last) < t.cfg.Cooldown {
			continue
		}
		t.lastFired[key] = ts
		h.ID = fmt.Sprintf("h%06d-%s", seq, key)
		metrics.IncHazards(t.pipelineID, key)
		out = append(out, h)
	}
	return out
}

// closestPair finds the nearest (a-class, b-class) track pair.
func (t *Tracker) closestPair(pair [2]string) ([2]Track, bool) {
	bestDist := math.Inf(1)
	var best [2]Track
	found := false
	for _, a := range t.tracks {
		if a.Class != pair[0] {
			continue
		}
		for _, b := range t.tracks {
			if b.Class != pair[1] || a.ID == b.ID {
				continue
			}
			if d := distance(a.Center, b.Center); d < bestDist {
				bestDist = d
				best = [2]Track{*a, *b}
				found = true
			}
		}
	}
	return best, found
}

// Snapshot returns a copy of all live tracks, newest first.
func (t *Tracker) Snapshot() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
