// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by polling and retry code.
// Production code injects Real(); tests inject Fake() and drive time
// explicitly with Advance.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}
