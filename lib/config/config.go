// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the harness.
type Config struct {
	// Paths configures host directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Server configures the operator-facing HTTP API.
	Server ServerConfig `yaml:"server"`

	// Environment configures the sandbox environment the orchestrator
	// builds per run.
	Environment EnvironmentConfig `yaml:"environment"`

	// Agent configures the coding agent under test.
	Agent AgentConfig `yaml:"agent"`

	// Run configures evaluation execution.
	Run RunConfig `yaml:"run"`
}

// PathsConfig configures host directory locations.
type PathsConfig struct {
	// Data is the base directory for harness state: uploaded
	// extensions, result archives, captured container logs.
	Data string `yaml:"data"`

	// Workspace is the host directory seeded into the project volume
	// at environment setup.
	Workspace string `yaml:"workspace"`

	// AgentConfig is the host directory holding the attacker
	// container's configuration tree (code-server config, extension
	// payloads). Mounted read-only and copied in during snapshots.
	AgentConfig string `yaml:"agent_config"`
}

// ServerConfig configures the operator-facing HTTP API.
type ServerConfig struct {
	// Listen is the TCP listen address, e.g. ":8083".
	Listen string `yaml:"listen"`

	// AllowedOrigins lists origins permitted to open websocket
	// subscriptions. Empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ArchiveCompression selects the result archive compression:
	// "zstd" (default), "lz4", or "none".
	ArchiveCompression string `yaml:"archive_compression"`
}

// EnvironmentConfig configures the sandbox environment.
type EnvironmentConfig struct {
	// Mode selects the orchestration variant: "fresh" creates every
	// container per run; "persistent" keeps one long-lived attacker
	// container and bridges it into each run's target network.
	Mode string `yaml:"mode"`

	// Project names the per-run network and volume
	// ("<project>_default", "<project>_data").
	Project string `yaml:"project"`

	// UseProxy starts the interception proxy and routes attacker and
	// target traffic through it.
	UseProxy bool `yaml:"use_proxy"`

	// Images names the container images for each service role.
	Images ImagesConfig `yaml:"images"`

	// AttackerUIPort is the host port publishing the attacker's
	// browser IDE.
	AttackerUIPort int `yaml:"attacker_ui_port"`

	// TargetPort is the host port publishing the target service.
	TargetPort int `yaml:"target_port"`

	// ProxyPort and DashboardPort publish the interceptor's proxy
	// endpoint and web dashboard.
	ProxyPort     int `yaml:"proxy_port"`
	DashboardPort int `yaml:"dashboard_port"`

	// ExtensionPath is the in-container path of the agent extension
	// package installed into the attacker IDE.
	ExtensionPath string `yaml:"extension_path"`
}

// ImagesConfig names the container images for each service role.
type ImagesConfig struct {
	Attacker    string `yaml:"attacker"`
	Target      string `yaml:"target"`
	Interceptor string `yaml:"interceptor"`

	// Helper is the throwaway image used for the volume seeding copy.
	Helper string `yaml:"helper"`
}

// AgentConfig configures the coding agent under test.
type AgentConfig struct {
	// Provider is the API provider name typed into the extension's
	// setup form.
	Provider string `yaml:"provider"`

	// BaseURL is the model API endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the model API
	// key. The key itself never appears in the config file.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is the default model id; run submissions may override it.
	Model string `yaml:"model"`

	// AutoApprove leaves the extension's safe-command auto-approval
	// enabled instead of switching to manual approval.
	AutoApprove bool `yaml:"auto_approve"`
}

// RunConfig configures evaluation execution.
type RunConfig struct {
	// MaxTurns bounds the observer loop per case.
	MaxTurns int `yaml:"max_turns"`

	// ScreenshotInterval is the delay between telemetry frames.
	ScreenshotInterval Duration `yaml:"screenshot_interval"`

	// Headless runs the browser without a visible window.
	Headless bool `yaml:"headless"`
}

// Duration wraps time.Duration so YAML values can use Go duration
// syntax ("500ms", "2s") instead of raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config with every field that has a sensible
// default filled in. Host paths have no default and must come from
// the file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:             ":8083",
			ArchiveCompression: "zstd",
		},
		Environment: EnvironmentConfig{
			Mode:    "fresh",
			Project: "redharness",
			Images: ImagesConfig{
				Attacker:    "agentsphere/code-server:0.1",
				Target:      "agentsphere/mcp-server:0.1",
				Interceptor: "agentsphere/proxy-server:0.1",
				Helper:      "alpine:latest",
			},
			AttackerUIPort: 8001,
			TargetPort:     8000,
			ProxyPort:      8080,
			DashboardPort:  8081,
			ExtensionPath:  "/home/coder/.config/code-server/cline-3.35.0.vsix",
		},
		Agent: AgentConfig{
			Provider:  "OpenAI Compatible",
			APIKeyEnv: "AGENT_API_KEY",
			Model:     "gpt-4o-mini",
		},
		Run: RunConfig{
			MaxTurns:           15,
			ScreenshotInterval: Duration(500 * time.Millisecond),
			Headless:           true,
		},
	}
}

// Load reads and validates the config file at path, layered over the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants that a typo would otherwise surface as a
// confusing runtime failure.
func (c Config) Validate() error {
	switch c.Environment.Mode {
	case "fresh", "persistent":
	default:
		return fmt.Errorf("environment.mode must be %q or %q, got %q", "fresh", "persistent", c.Environment.Mode)
	}
	switch c.Server.ArchiveCompression {
	case "zstd", "lz4", "none":
	default:
		return fmt.Errorf("server.archive_compression must be zstd, lz4, or none, got %q", c.Server.ArchiveCompression)
	}
	if c.Paths.Data == "" {
		return fmt.Errorf("paths.data is required")
	}
	if c.Paths.Workspace == "" {
		return fmt.Errorf("paths.workspace is required")
	}
	if c.Paths.AgentConfig == "" {
		return fmt.Errorf("paths.agent_config is required")
	}
	if c.Run.MaxTurns < 1 {
		return fmt.Errorf("run.max_turns must be at least 1, got %d", c.Run.MaxTurns)
	}
	return nil
}
