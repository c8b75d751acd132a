// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry provides bounded retry with exponential backoff for
// flaky UI and container operations. The retry delay runs through
// lib/clock so tests drive backoff deterministically.
package retry
