// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentsphere/redharness/lib/clock"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// Stream names. Frames are best-effort; results never drop.
const (
	StreamFrame  = "frame"
	StreamResult = "result"
)

// Event is one telemetry item delivered to subscribers.
type Event struct {
	TaskID string
	Stream string

	// Payload is the published item, or the Completion for a terminal
	// event.
	Payload any

	// Terminal marks the distinguished completion event, sent once on
	// the result stream after every prior result item.
	Terminal bool
}

// Completion is the payload of the terminal event.
type Completion struct {
	Status Status
	Result any
	Err    string
}

// Subscriber receives events for one task. Send failures drop the
// subscriber without disturbing delivery to others.
type Subscriber interface {
	Send(Event) error
}

// NewTaskID builds an opaque task id from the current time and a
// random suffix, e.g. "task-1756400000-3f9c12ab".
func NewTaskID(clk clock.Clock) string {
	return fmt.Sprintf("task-%d-%s", clk.Now().Unix(), uuid.NewString()[:8])
}

const frameBuffer = 64

// Task is one registered evaluation run: status, result, latest frame,
// streams, and the subscriber set. All mutation goes through Task and
// Hub methods; the worker goroutine never touches shared state
// directly.
type Task struct {
	ID string

	mu             sync.Mutex
	status         Status
	result         any
	errMessage     string
	latestFrame    any
	subscribers    map[Subscriber]struct{}
	completionSent bool
	streams        map[string]chan any
	drained        sync.WaitGroup
}

func newTask(id string) *Task {
	t := &Task{
		ID:          id,
		status:      StatusPending,
		subscribers: make(map[Subscriber]struct{}),
		streams: map[string]chan any{
			StreamFrame:  make(chan any, frameBuffer),
			StreamResult: make(chan any, 1),
		},
	}
	return t
}

// Status returns the task's current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the final payload, nil before completion.
func (t *Task) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the failure message for StatusError tasks.
func (t *Task) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMessage
}

// LatestFrame returns the most recently published frame, nil when none
// has arrived yet.
func (t *Task) LatestFrame() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latestFrame
}

// PublishFrame offers a frame to the frame stream. Delivery is
// best-effort: when the buffer is full the frame is dropped rather
// than blocking the publisher. The latest frame is always retained for
// polling clients. Safe to call from any goroutine, including after
// completion, when the frame is retained but not streamed.
func (t *Task) PublishFrame(payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latestFrame = payload
	if t.status.Terminal() {
		return
	}
	// Non-blocking send under the lock; completion also closes the
	// channel under the lock, so a send on a closed channel cannot
	// happen.
	select {
	case t.streams[StreamFrame] <- payload:
	default:
	}
}

// PublishResult enqueues an item on the result stream. Result items
// never drop; this blocks until the fan-out accepts the item. Must be
// called from the job itself (before it returns): the streams close
// only after the job returns, which is what makes the blocking send
// safe.
func (t *Task) PublishResult(payload any) {
	t.mu.Lock()
	ch := t.streams[StreamResult]
	terminal := t.status.Terminal()
	t.mu.Unlock()
	if terminal {
		return
	}
	ch <- payload
}

// Subscribe registers a subscriber. If the task already completed, the
// completion event is delivered immediately instead.
func (t *Task) Subscribe(sub Subscriber) {
	t.mu.Lock()
	if t.completionSent {
		event := t.completionEventLocked()
		t.mu.Unlock()
		_ = sub.Send(event)
		return
	}
	t.subscribers[sub] = struct{}{}
	t.mu.Unlock()
}

// Unsubscribe removes a subscriber. Unknown subscribers are ignored.
func (t *Task) Unsubscribe(sub Subscriber) {
	t.mu.Lock()
	delete(t.subscribers, sub)
	t.mu.Unlock()
}

func (t *Task) completionEventLocked() Event {
	return Event{
		TaskID:   t.ID,
		Stream:   StreamResult,
		Terminal: true,
		Payload: Completion{
			Status: t.status,
			Result: t.result,
			Err:    t.errMessage,
		},
	}
}

// broadcast delivers an event to every current subscriber. A
// subscriber whose Send fails is removed; the rest still receive the
// event and the drain continues.
func (t *Task) broadcast(event Event) {
	t.mu.Lock()
	subs := make([]Subscriber, 0, len(t.subscribers))
	for sub := range t.subscribers {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Send(event); err != nil {
			t.Unsubscribe(sub)
		}
	}
}

// broadcastCompletion sends the terminal event exactly once and marks
// the task so later subscribers get it on subscribe.
func (t *Task) broadcastCompletion() {
	t.mu.Lock()
	if t.completionSent {
		t.mu.Unlock()
		return
	}
	t.completionSent = true
	event := t.completionEventLocked()
	subs := make([]Subscriber, 0, len(t.subscribers))
	for sub := range t.subscribers {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Send(event)
	}
}

// complete records the outcome and closes every stream. Status and
// result are visible before the close, so the sentinel is strictly the
// last thing each fan-out observes.
func (t *Task) complete(result any, jobErr error) {
	t.mu.Lock()
	if jobErr != nil {
		t.status = StatusError
		t.errMessage = jobErr.Error()
	} else {
		t.status = StatusFinished
		t.result = result
	}
	for _, ch := range t.streams {
		close(ch)
	}
	t.mu.Unlock()
}
