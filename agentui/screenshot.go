// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentsphere/redharness/lib/clock"
	"github.com/agentsphere/redharness/telemetry"
)

// ScreenshotLoop captures the page at a fixed interval and publishes
// each capture to the task's frame stream until the context is
// cancelled. Capture failures are logged and skipped; frames are
// best-effort by contract.
func ScreenshotLoop(ctx context.Context, page Page, task *telemetry.Task, interval time.Duration, logger *slog.Logger) {
	screenshotLoop(ctx, page, task, interval, clock.Real(), logger)
}

func screenshotLoop(ctx context.Context, page Page, task *telemetry.Task, interval time.Duration, clk clock.Clock, logger *slog.Logger) {
	for {
		data, err := page.Screenshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("screenshot capture failed", "error", err)
		} else {
			task.PublishFrame(data)
		}
		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
		}
	}
}
