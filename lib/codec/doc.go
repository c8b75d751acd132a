// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the harness's standard CBOR encoding. Result
// archives are encoded with Core Deterministic Encoding so the same
// run result always produces identical bytes, which keeps archive
// digests stable across rewrites.
package codec
