// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the harness over HTTP: evaluation submission,
// frame polling, report and trace views, and live websocket telemetry.
//
// Every response body is an Envelope with a stable numeric code so
// clients can dispatch without string matching. Terminal results are
// archived to disk as deterministic CBOR, so report and trace remain
// answerable after a restart.
package server
