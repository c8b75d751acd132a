// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentui drives the coding agent's browser IDE. The agent's
// surface is event-driven and non-deterministic in timing, so there is
// no static schedule: Observer classifies what the UI currently
// presents on each poll and applies exactly one action. The package
// also covers workstation preparation (extension install, login,
// agent configuration), transcript export, and the interval screenshot
// loop feeding the frame stream.
//
// Browser access goes through the Page capability interfaces; the
// ChromePage adapter implements them over chromedp, and tests use
// in-memory fakes.
package agentui
