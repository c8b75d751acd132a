// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentsphere/redharness/lib/clock"
)

// Policy bounds a retry loop. The zero value is not usable; use
// Default() or construct explicitly.
type Policy struct {
	// Attempts is the maximum number of tries, including the first.
	Attempts int

	// Delay is the pause after the first failure.
	Delay time.Duration

	// Backoff multiplies the delay after each failed attempt.
	Backoff float64
}

// Default is the policy used by the UI transcript-export flow: three
// attempts, one second initial delay, doubling.
func Default() Policy {
	return Policy{Attempts: 3, Delay: time.Second, Backoff: 2.0}
}

// Do invokes fn until it succeeds, the policy is exhausted, or ctx is
// cancelled. Between attempts it sleeps the current delay on clk and
// then multiplies the delay by the backoff factor. Returns the last
// error when every attempt fails.
func Do(ctx context.Context, clk clock.Clock, logger *slog.Logger, policy Policy, operation string, fn func(ctx context.Context) error) error {
	if policy.Attempts < 1 {
		return fmt.Errorf("retry %s: policy allows no attempts", operation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	delay := policy.Delay
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry %s: %w", operation, err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.Attempts {
			break
		}
		logger.Warn("operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		select {
		case <-clk.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry %s: %w", operation, ctx.Err())
		}
		delay = time.Duration(float64(delay) * policy.Backoff)
	}
	return fmt.Errorf("retry %s: %d attempts failed: %w", operation, policy.Attempts, lastErr)
}
