// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

const (
	subscriberBuffer = 64
	dropLogEvery     = 100
)

// MemoryBus is the in-memory Bus used by the daemon. It is not durable;
// events that must survive a restart go through the event store, not the
// bus.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message

	dropCount atomic.Uint64
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// Publish delivers msg to every subscriber of topic. When a subscriber's
// buffer is full the publish blocks until the context gives up, after which
// the message is counted as dropped for the remaining subscribers.
//
// Sends run under the bus read lock and Close takes the write lock before
// closing a channel, so a publish can never race a subscriber teardown.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		case <-ctx.Done():
			metrics.IncBusDropped(topic)
			count := b.dropCount.Add(1)
			if count%dropLogEvery == 1 {
				logger := log.WithComponent("bus")
				logger.Warn().
					Str("topic", topic).
					Str("reason", dropReason(ctx.Err())).
					Uint64("dropped", count).
					Msg("dropping bus message, subscriber too slow")
			}
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	return nil
}

// TryPublish delivers msg to every subscriber that has buffer space and
// drops it for the rest. It never blocks; the watcher hot path uses this.
func (b *MemoryBus) TryPublish(topic string, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
			metrics.IncBusDropped(topic)
			count := b.dropCount.Add(1)
			if count%dropLogEvery == 1 {
				logger := log.WithComponent("bus")
				logger.Warn().
					Str("topic", topic).
					Uint64("dropped", count).
					Msg("dropping bus message, subscriber buffer full")
			}
		}
	}
}

// Subscribe registers a buffered subscription on topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memSub{b: b, topic: topic, ch: ch}, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
	once  sync.Once
}

func (s *memSub) C() <-chan Message { return s.ch }

// Close removes the subscription and closes its channel. Holding the bus
// write lock here keeps the close ordered after any in-flight publish.
func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s.ch {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		close(s.ch)
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
