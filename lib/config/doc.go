// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for harness binaries.
//
// Configuration is loaded from a single YAML file passed via --config.
// There is no automatic discovery and there are no fallback locations;
// this keeps deployments deterministic and auditable. Defaults cover
// everything except host paths, so a minimal file only names the
// workspace and agent-config directories.
package config
