// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

func testEvent(pipelineID string, seq uint64) detect.Event {
	return detect.Event{
		ID:         "ev-1",
		PipelineID: pipelineID,
		Detector:   "motion",
		Kind:       detect.KindDetection,
		Seq:        seq,
		Timestamp:  time.Unix(1700000000, 0),
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	s1, err := b.Subscribe(ctx, TopicEvents("cam-a"))
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, TopicEvents("cam-a"))
	require.NoError(t, err)

	msg := EventMessage(testEvent("cam-a", 7))
	require.NoError(t, b.Publish(ctx, TopicEvents("cam-a"), msg))

	got1 := <-s1.C()
	got2 := <-s2.C()
	assert.Equal(t, uint64(7), got1.Event.Seq)
	assert.Equal(t, uint64(7), got2.Event.Seq)
	assert.Equal(t, detect.KindDetection, got1.Kind)
}

func TestTopicsAreIsolated(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sa, err := b.Subscribe(ctx, TopicEvents("cam-a"))
	require.NoError(t, err)
	sb, err := b.Subscribe(ctx, TopicEvents("cam-b"))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TopicEvents("cam-a"), EventMessage(testEvent("cam-a", 1))))

	select {
	case <-sa.C():
	case <-time.After(time.Second):
		t.Fatal("subscriber on cam-a got nothing")
	}
	select {
	case msg := <-sb.C():
		t.Fatalf("subscriber on cam-b got %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishGivesUpOnContext(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TopicHazards)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	// Fill the subscriber buffer without draining.
	msg := HazardMessage("cam-a", track.Hazard{ID: "h1", Timestamp: time.Now()})
	for i := 0; i < subscriberBuffer; i++ {
		require.NoError(t, b.Publish(ctx, TopicHazards, msg))
	}

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = b.Publish(short, TopicHazards, msg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryPublishNeverBlocks(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TopicEvents("cam-a"))
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.TryPublish(TopicEvents("cam-a"), EventMessage(testEvent("cam-a", uint64(i))))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("TryPublish blocked on a full subscriber")
	}
}

func TestCloseRemovesSubscriberAndClosesChannel(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TopicEvents("cam-a"))
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	_, open := <-sub.C()
	assert.False(t, open)

	// Publishing after close must not error or panic.
	assert.NoError(t, b.Publish(ctx, TopicEvents("cam-a"), EventMessage(testEvent("cam-a", 1))))
}

func TestHazardMessageEnvelope(t *testing.T) {
	h := track.Hazard{ID: "h1", Classes: [2]string{"forklift", "person"}, Distance: 0.04}
	msg := HazardMessage("cam-a", h)
	assert.Equal(t, detect.KindHazard, msg.Kind)
	assert.Equal(t, "cam-a", msg.PipelineID)
	require.NotNil(t, msg.Hazard)
	assert.Nil(t, msg.Event)
}

func TestCloseDuringPublishBurst(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	topic := TopicEvents("cam-a")
	msg := EventMessage(testEvent("cam-a", 1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			b.TryPublish(topic, msg)
		}
	}()

	// Subscribers churn while the publisher is running; none of the
	// closes may panic the publisher with a send on a closed channel.
	for i := 0; i < 200; i++ {
		sub, err := b.Subscribe(ctx, topic)
		require.NoError(t, err)
		require.NoError(t, sub.Close())
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not finish")
	}
}
