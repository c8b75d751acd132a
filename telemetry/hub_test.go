// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/agentsphere/redharness/lib/clock"
)

type recordingSub struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *recordingSub) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.fail {
		return errors.New("send failed")
	}
	return nil
}

func (s *recordingSub) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResultOrderAndSentinelLast(t *testing.T) {
	t.Parallel()
	hub := newTestHub()
	task, err := hub.Register("task-1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	sub := &recordingSub{}
	task.Subscribe(sub)

	items := []string{"one", "two", "three", "four", "five"}
	if err := hub.Run("task-1", func() (any, error) {
		for _, item := range items {
			task.PublishResult(item)
		}
		return "final", nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	hub.Wait("task-1")

	var results []Event
	for _, event := range sub.Events() {
		if event.Stream == StreamResult {
			results = append(results, event)
		}
	}
	if len(results) != len(items)+1 {
		t.Fatalf("result events: got %d, want %d", len(results), len(items)+1)
	}
	for i, item := range items {
		if results[i].Terminal {
			t.Fatalf("terminal event at position %d, before all items", i)
		}
		if results[i].Payload != item {
			t.Errorf("item %d: got %v, want %q", i, results[i].Payload, item)
		}
	}
	last := results[len(results)-1]
	if !last.Terminal {
		t.Fatal("last result event is not terminal")
	}
	completion := last.Payload.(Completion)
	if completion.Status != StatusFinished || completion.Result != "final" {
		t.Errorf("completion: got %+v", completion)
	}
	if task.Status() != StatusFinished {
		t.Errorf("status: got %s", task.Status())
	}
}

func TestFailingSubscriberIsIsolated(t *testing.T) {
	t.Parallel()
	hub := newTestHub()
	task, err := hub.Register("task-2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	good := &recordingSub{}
	bad := &recordingSub{fail: true}
	task.Subscribe(good)
	task.Subscribe(bad)

	if err := hub.Run("task-2", func() (any, error) {
		task.PublishResult("a")
		task.PublishResult("b")
		task.PublishResult("c")
		return nil, nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	hub.Wait("task-2")

	var goodItems []any
	for _, event := range good.Events() {
		if event.Stream == StreamResult && !event.Terminal {
			goodItems = append(goodItems, event.Payload)
		}
	}
	if len(goodItems) != 3 {
		t.Fatalf("good subscriber items: got %v", goodItems)
	}
	// The failing subscriber is dropped after its first failed send.
	if got := len(bad.Events()); got != 1 {
		t.Errorf("bad subscriber received %d events, want 1", got)
	}
}

func TestPanickingJobStillDeliversSentinel(t *testing.T) {
	t.Parallel()
	hub := newTestHub()
	task, err := hub.Register("task-3")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	sub := &recordingSub{}
	task.Subscribe(sub)

	if err := hub.Run("task-3", func() (any, error) {
		panic("browser crashed")
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	hub.Wait("task-3")

	if task.Status() != StatusError {
		t.Fatalf("status: got %s", task.Status())
	}
	events := sub.Events()
	if len(events) == 0 {
		t.Fatal("no events delivered")
	}
	last := events[len(events)-1]
	if !last.Terminal {
		t.Fatal("last event is not terminal")
	}
	completion := last.Payload.(Completion)
	if completion.Status != StatusError || !strings.Contains(completion.Err, "browser crashed") {
		t.Errorf("completion: got %+v", completion)
	}
}

func TestLateSubscriberGetsCompletion(t *testing.T) {
	t.Parallel()
	hub := newTestHub()
	if _, err := hub.Register("task-4"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := hub.Run("task-4", func() (any, error) { return 42, nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	hub.Wait("task-4")

	task, _ := hub.Get("task-4")
	sub := &recordingSub{}
	task.Subscribe(sub)

	events := sub.Events()
	if len(events) != 1 || !events[0].Terminal {
		t.Fatalf("late subscribe events: got %+v", events)
	}
	if completion := events[0].Payload.(Completion); completion.Result != 42 {
		t.Errorf("completion result: got %v", completion.Result)
	}
}

func TestFramesRetainedAfterCompletion(t *testing.T) {
	t.Parallel()
	hub := newTestHub()
	task, err := hub.Register("task-5")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := hub.Run("task-5", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	hub.Wait("task-5")

	// A straggling screenshot publisher must not panic or stream.
	task.PublishFrame("late-frame")
	if task.LatestFrame() != "late-frame" {
		t.Errorf("latest frame: got %v", task.LatestFrame())
	}
}

func TestRegisterAndRunValidation(t *testing.T) {
	t.Parallel()
	hub := newTestHub()
	if _, err := hub.Register("task-6"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := hub.Register("task-6"); err == nil {
		t.Error("duplicate Register succeeded")
	}
	if err := hub.Run("missing", func() (any, error) { return nil, nil }); err == nil {
		t.Error("Run of unregistered task succeeded")
	}
	if err := hub.Run("task-6", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := hub.Run("task-6", func() (any, error) { return nil, nil }); err == nil {
		t.Error("second Run succeeded")
	}
}

func TestNewTaskIDShape(t *testing.T) {
	t.Parallel()
	id := NewTaskID(clock.Real())
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != "task" || len(parts[2]) != 8 {
		t.Errorf("task id shape: got %q", id)
	}
}
