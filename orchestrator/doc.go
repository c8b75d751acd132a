// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator builds and tears down the multi-container
// sandbox an evaluation runs in: a private network, a seeded project
// volume, the attacker workstation, the target service, and optionally
// an interception proxy between them.
//
// Two modes exist. Fresh-per-run creates everything per evaluation and
// removes it afterwards. Persistent-attacker keeps one long-lived
// attacker container, bridges it into each run's target network, and
// resets its filesystem from an internal snapshot between runs instead
// of recreating it. Snapshot and reset amortize image pulls and
// extension installs across runs while keeping each run's starting
// state clean.
package orchestrator
