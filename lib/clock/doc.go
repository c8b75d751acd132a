// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, or time.Sleep directly. Real() provides standard library
// behavior; Fake() provides a deterministic clock that advances only
// when Advance is called. Every polling loop, readiness wait, and retry
// delay in this codebase goes through a Clock so tests never sleep for
// real.
package clock
