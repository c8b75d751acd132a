// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package containers defines the container runtime capability surface
// the harness depends on, and implements it against the Docker Engine
// API.
//
// The orchestrator composes these primitives into environment
// lifecycle; nothing above this package imports the Docker SDK. Tests
// use the in-package Fake, which simulates networks, volumes,
// containers, and exec results in memory.
package containers
