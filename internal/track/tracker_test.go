// SPDX-License-Identifier: MIT

package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
)

func det(class string, x, y float64) detect.Detection {
	return detect.Detection{
		Class:  class,
		Score:  0.9,
		Center: detect.Point{X: x, Y: y},
		Box:    detect.Rect{X: int(x * 100), Y: int(y * 100), W: 10, H: 10},
	}
}

func cfg() Config {
	return Config{
		DistThreshold:  0.1,
		MaxMisses:      2,
		HazardPairs:    [][2]string{{"forklift", "person"}},
		HazardDistance: 0.1,
		Cooldown:       time.Second,
		PredictHorizon: time.Second,
	}
}

func TestUpdateSpawnsAndContinuesTracks(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Unix(1700000000, 0)

	touched := tr.Update(t0, 1, []detect.Detection{det("person", 0.2, 0.2)})
	require.Len(t, touched, 1)
	id := touched[0].ID
	assert.Equal(t, 1, touched[0].Age)

	// Small move continues the same track.
	touched = tr.Update(t0.Add(100*time.Millisecond), 2, []detect.Detection{det("person", 0.25, 0.2)})
	require.Len(t, touched, 1)
	assert.Equal(t, id, touched[0].ID)
	assert.Equal(t, 2, touched[0].Age)
	assert.Greater(t, touched[0].Velocity.X, 0.0)

	// A jump beyond the threshold spawns a new track.
	touched = tr.Update(t0.Add(200*time.Millisecond), 3, []detect.Detection{det("person", 0.8, 0.8)})
	require.Len(t, touched, 1)
	assert.NotEqual(t, id, touched[0].ID)
	assert.Equal(t, 2, tr.Len())
}

func TestUpdateNeverMatchesAcrossClasses(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Now()

	tr.Update(t0, 1, []detect.Detection{det("person", 0.5, 0.5)})
	touched := tr.Update(t0.Add(50*time.Millisecond), 2, []detect.Detection{det("forklift", 0.5, 0.5)})

	require.Len(t, touched, 1)
	assert.Equal(t, "forklift", touched[0].Class)
	assert.Equal(t, 2, tr.Len())
}

func TestUpdateOneDetectionPerTrack(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Now()

	tr.Update(t0, 1, []detect.Detection{det("person", 0.5, 0.5)})
	// Two nearby detections: one continues the track, the other spawns.
	touched := tr.Update(t0.Add(50*time.Millisecond), 2, []detect.Detection{
		det("person", 0.51, 0.5),
		det("person", 0.55, 0.5),
	})
	require.Len(t, touched, 2)
	assert.Equal(t, 2, tr.Len())
}

func TestTracksEvictAfterMaxMisses(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Now()

	tr.Update(t0, 1, []detect.Detection{det("person", 0.5, 0.5)})
	require.Equal(t, 1, tr.Len())

	for i := 0; i < 3; i++ {
		tr.Update(t0.Add(time.Duration(i+1)*time.Second), uint64(i+2), nil)
	}
	assert.Equal(t, 0, tr.Len())
}

func TestTrackIDsNeverReused(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Now()

	first := tr.Update(t0, 1, []detect.Detection{det("person", 0.1, 0.1)})
	for i := 0; i < 3; i++ {
		tr.Update(t0.Add(time.Duration(i+1)*time.Second), uint64(i+2), nil)
	}
	require.Equal(t, 0, tr.Len())

	second := tr.Update(t0.Add(10*time.Second), 20, []detect.Detection{det("person", 0.1, 0.1)})
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestHazardOnCurrentProximity(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Now()

	tr.Update(t0, 1, []detect.Detection{
		det("forklift", 0.5, 0.5),
		det("person", 0.55, 0.5),
	})

	hazards := tr.Hazards(t0, 1)
	require.Len(t, hazards, 1)
	h := hazards[0]
	assert.False(t, h.Predicted)
	assert.InDelta(t, 0.05, h.Distance, 0.001)
	assert.Equal(t, "forklift|person", h.PairKey())
}

func TestHazardCooldownDebounces(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Now()

	tr.Update(t0, 1, []detect.Detection{
		det("forklift", 0.5, 0.5),
		det("person", 0.55, 0.5),
	})

	require.Len(t, tr.Hazards(t0, 1), 1)
	assert.Empty(t, tr.Hazards(t0.Add(100*time.Millisecond), 2))
	assert.Len(t, tr.Hazards(t0.Add(2*time.Second), 3), 1)
}

func TestHazardOnPredictedApproach(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Now()

	// Forklift moving right toward a standing person: current distance is
	// safe, extrapolated distance is not.
	tr.Update(t0, 1, []detect.Detection{
		det("forklift", 0.2, 0.5),
		det("person", 0.62, 0.5),
	})
	tr.Update(t0.Add(100*time.Millisecond), 2, []detect.Detection{
		det("forklift", 0.28, 0.5),
		det("person", 0.62, 0.5),
	})

	hazards := tr.Hazards(t0.Add(100*time.Millisecond), 2)
	require.Len(t, hazards, 1)
	assert.True(t, hazards[0].Predicted)
}

func TestPredictClampsToFrame(t *testing.T) {
	tr := Track{
		Center:   detect.Point{X: 0.95, Y: 0.5},
		Velocity: detect.Point{X: 1.0, Y: 0},
	}
	p := Predict(tr, time.Second)
	assert.Equal(t, 1.0, p.X)
	assert.Equal(t, 0.5, p.Y)
}

func TestSnapshotOrderedByRecency(t *testing.T) {
	tr := New("cam", cfg())
	t0 := time.Now()

	tr.Update(t0, 1, []detect.Detection{det("person", 0.1, 0.1)})
	tr.Update(t0.Add(time.Second), 2, []detect.Detection{det("forklift", 0.9, 0.9)})

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "forklift", snap[0].Class)
}

func TestDefaultClassesCarryColors(t *testing.T) {
	classes := DefaultClasses()
	require.Contains(t, classes, "forklift")
	c := classes["forklift"].AnnotateColor()
	assert.Equal(t, uint8(55), c.B)
	assert.Equal(t, uint8(225), c.R)
}
