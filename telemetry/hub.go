// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"log/slog"
	"sync"
)

// Hub owns the task registry. Tasks are registered before their jobs
// start so subscribers can attach from the first frame.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		tasks:  make(map[string]*Task),
	}
}

// Register creates the task and its streams, and starts one fan-out
// goroutine per stream. The task starts in StatusPending.
func (h *Hub) Register(taskID string) (*Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tasks[taskID]; ok {
		return nil, fmt.Errorf("task %s already registered", taskID)
	}
	task := newTask(taskID)
	h.tasks[taskID] = task

	for name, ch := range task.streams {
		task.drained.Add(1)
		go h.fanOut(task, name, ch)
	}
	return task, nil
}

// fanOut drains one stream in enqueue order and broadcasts every item.
// The channel closing is the terminal sentinel; only the result
// stream's termination broadcasts the completion event.
func (h *Hub) fanOut(task *Task, stream string, ch <-chan any) {
	defer task.drained.Done()
	for payload := range ch {
		task.broadcast(Event{TaskID: task.ID, Stream: stream, Payload: payload})
	}
	if stream == StreamResult {
		task.broadcastCompletion()
	}
}

// Get returns a registered task.
func (h *Hub) Get(taskID string) (*Task, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	task, ok := h.tasks[taskID]
	return task, ok
}

// Tasks returns every registered task id.
func (h *Hub) Tasks() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.tasks))
	for id := range h.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Run starts the job on its own worker goroutine. The deferred
// completion handler records the outcome and closes the streams, so
// the sentinel is delivered whether the job returned, failed, or
// panicked. Status moves pending to running to finished or error.
func (h *Hub) Run(taskID string, job func() (any, error)) error {
	task, ok := h.Get(taskID)
	if !ok {
		return fmt.Errorf("task %s not registered", taskID)
	}
	task.mu.Lock()
	if task.status != StatusPending {
		status := task.status
		task.mu.Unlock()
		return fmt.Errorf("task %s already %s", taskID, status)
	}
	task.status = StatusRunning
	task.mu.Unlock()

	go func() {
		var (
			result any
			jobErr error
		)
		defer func() {
			if r := recover(); r != nil {
				jobErr = fmt.Errorf("job panicked: %v", r)
				h.logger.Error("task job panicked", "task", taskID, "panic", r)
			}
			task.complete(result, jobErr)
			h.logger.Info("task completed", "task", taskID, "status", string(task.Status()))
		}()
		result, jobErr = job()
	}()
	return nil
}

// Wait blocks until the task's fan-out goroutines have drained and the
// completion event has been broadcast. Intended for tests and
// shutdown.
func (h *Hub) Wait(taskID string) {
	task, ok := h.Get(taskID)
	if !ok {
		return
	}
	task.drained.Wait()
}
