// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry bridges a blocking evaluation job to live
// subscribers. Each task owns named streams ("frame", "result"); the
// job publishes items from its worker goroutine, a fan-out goroutine
// per stream delivers them in order to every current subscriber, and
// channel close is the terminal sentinel, enqueued by the worker's
// deferred completion handler so it is guaranteed last whether the job
// returned, failed, or panicked.
//
// Only the result stream's termination broadcasts the completion
// event; frame termination is silent, since frames are best-effort and
// the client's real completion signal is the result stream.
package telemetry
