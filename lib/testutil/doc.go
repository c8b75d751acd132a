// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by package tests:
// channel receive/close assertions with timeout safety valves, so
// individual tests never hang on a channel that was supposed to fire.
package testutil
