// SPDX-License-Identifier: MIT

// Package pipeline assembles one processing pipeline per camera: a frame
// source feeding a shared ring, a detector watcher chasing it, a tracker
// turning detections into tracks and hazards, and the sinks that persist,
// publish and visualise what comes out. The Manager owns pipeline
// lifecycles and is what the API layer talks to.
package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// State is a pipeline lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// LifecycleStates lists every state, for one-hot gauges.
var LifecycleStates = []string{
	string(StateStarting),
	string(StateRunning),
	string(StateStopping),
	string(StateStopped),
	string(StateFailed),
}

// Trigger is a lifecycle event fired against the machine.
type Trigger string

const (
	triggerStarted Trigger = "started"
	triggerStop    Trigger = "stop"
	triggerStopped Trigger = "stopped"
	triggerFail    Trigger = "fail"
)

// transition describes a single edge in the lifecycle machine.
type transition struct {
	From    State
	Trigger Trigger
	To      State
	Guard   func(ctx context.Context, from State, trigger Trigger) error
}

// machine is a small, strict FSM: unknown transitions are errors.
type machine struct {
	mu    sync.Mutex
	state State
	index map[string]transition
}

func newMachine(initial State, transitions []transition) (*machine, error) {
	idx := make(map[string]transition, len(transitions))
	for _, t := range transitions {
		k := transitionKey(t.From, t.Trigger)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Trigger)
		}
		idx[k] = t
	}
	return &machine{state: initial, index: idx}, nil
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire attempts to apply a trigger atomically.
func (m *machine) Fire(ctx context.Context, trigger Trigger) (State, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[transitionKey(from, trigger)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("invalid transition: state=%s trigger=%s", from, trigger)
	}
	to := t.To
	m.mu.Unlock()

	// Guards run outside the critical section to avoid blocking the world.
	if t.Guard != nil {
		if err := t.Guard(ctx, from, trigger); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("concurrent transition detected: from=%s cur=%s trigger=%s", from, cur, trigger)
	}
	m.state = to
	m.mu.Unlock()

	return to, nil
}

func transitionKey(from State, trigger Trigger) string {
	return string(from) + "|" + string(trigger)
}

// newLifecycle builds the pipeline lifecycle machine.
//
//	starting -> running | stopping | failed
//	running  -> stopping | failed
//	stopping -> stopped | failed
func newLifecycle() *machine {
	m, err := newMachine(StateStarting, []transition{
		{From: StateStarting, Trigger: triggerStarted, To: StateRunning},
		{From: StateStarting, Trigger: triggerStop, To: StateStopping},
		{From: StateStarting, Trigger: triggerFail, To: StateFailed},
		{From: StateRunning, Trigger: triggerStop, To: StateStopping},
		{From: StateRunning, Trigger: triggerFail, To: StateFailed},
		{From: StateStopping, Trigger: triggerStopped, To: StateStopped},
		{From: StateStopping, Trigger: triggerFail, To: StateFailed},
	})
	if err != nil {
		// Transition table is static; a duplicate is a programming error.
		panic(err)
	}
	return m
}
