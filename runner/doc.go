// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner supervises one evaluation run end to end: it builds
// (or reuses) the sandbox environment, prepares the attacker
// workstation, drives the coding agent through the observer loop, and
// scores the outcome against the target service.
//
// Telemetry flows through a registered task: screenshot frames stream
// best-effort for the whole run, one result item is published per
// dataset case, and the assembled RunResult is the job's return value.
package runner
