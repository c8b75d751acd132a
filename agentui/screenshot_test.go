// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/agentsphere/redharness/lib/clock"
	"github.com/agentsphere/redharness/lib/testutil"
	"github.com/agentsphere/redharness/telemetry"
)

func TestScreenshotLoopPublishesFrames(t *testing.T) {
	t.Parallel()
	hub := telemetry.NewHub(discardLogger())
	task, err := hub.Register("task-shot")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	ui := newFakeUI(map[string]bool{})
	page := newFakePage(ui)
	page.screenshot = []byte("frame-bytes")
	clk := clock.Fake(time.Unix(1756400000, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		screenshotLoop(ctx, page, task, 500*time.Millisecond, clk, discardLogger())
	}()

	// First capture happens before the first interval wait.
	clk.WaitForWaiters(1)
	if got := task.LatestFrame(); !bytes.Equal(got.([]byte), []byte("frame-bytes")) {
		t.Errorf("latest frame: got %v", got)
	}

	cancel()
	testutil.RequireClosed(t, done, time.Second, "screenshot loop exit")
}

func TestScreenshotLoopSurvivesCaptureFailure(t *testing.T) {
	t.Parallel()
	hub := telemetry.NewHub(discardLogger())
	task, err := hub.Register("task-shot-2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	ui := newFakeUI(map[string]bool{})
	page := newFakePage(ui)
	page.shotErr = context.DeadlineExceeded
	clk := clock.Fake(time.Unix(1756400000, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		screenshotLoop(ctx, page, task, 500*time.Millisecond, clk, discardLogger())
	}()

	// A failing capture logs and keeps looping instead of crashing.
	clk.WaitForWaiters(1)
	clk.Advance(500 * time.Millisecond)
	clk.WaitForWaiters(1)

	cancel()
	testutil.RequireClosed(t, done, time.Second, "screenshot loop exit")
}
