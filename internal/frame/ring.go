// SPDX-License-Identifier: MIT

package frame

import "sync"

// Ring is a fixed-capacity frame buffer. The ingest loop pushes decoded
// frames and never blocks; detector watchers chase the head at their own
// pace and detect when they have been lapped.
//
// Sequence numbers start at 1, so a zero cursor always means "nothing
// consumed yet".
type Ring struct {
	mu    sync.RWMutex
	slots []Frame
	head  uint64 // seq of the most recently pushed frame, 0 when empty
}

// NewRing creates a ring holding up to capacity frames. Capacity must be
// positive.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{slots: make([]Frame, capacity)}
}

// Push stores the frame, overwriting the oldest slot when full, and returns
// the sequence number assigned to it.
func (r *Ring) Push(f Frame) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head++
	f.Seq = r.head
	r.slots[int((r.head-1)%uint64(len(r.slots)))] = f
	return r.head
}

// Head returns the sequence number of the newest frame. ok is false while
// the ring is empty.
func (r *Ring) Head() (seq uint64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.head, r.head > 0
}

// At returns the frame with the given sequence number. ok is false when the
// frame was never pushed, or has already been overwritten by a newer lap.
func (r *Ring) At(seq uint64) (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if seq == 0 || seq > r.head {
		return Frame{}, false
	}
	f := r.slots[int((seq-1)%uint64(len(r.slots)))]
	if f.Seq != seq {
		return Frame{}, false // lapped
	}
	return f, true
}

// Oldest returns the lowest sequence number still resident in the ring.
// ok is false while the ring is empty.
func (r *Ring) Oldest() (seq uint64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.head == 0 {
		return 0, false
	}
	if r.head <= uint64(len(r.slots)) {
		return 1, true
	}
	return r.head - uint64(len(r.slots)) + 1, true
}

// Len returns the number of frames currently resident.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.head < uint64(len(r.slots)) {
		return int(r.head)
	}
	return len(r.slots)
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.slots)
}
