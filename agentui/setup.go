// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/agentsphere/redharness/containers"
	"github.com/agentsphere/redharness/lib/clock"
)

// AgentSettings configures the coding agent extension.
type AgentSettings struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string

	// MCPConfig is the raw connector configuration typed into the
	// extension's settings editor. JSONC is accepted.
	MCPConfig []byte

	// AutoApprove leaves safe-command auto-approval on.
	AutoApprove bool
}

// SetupConfig describes workstation preparation.
type SetupConfig struct {
	// ExtensionName is the extension's display name, used to find its
	// sidebar entry. Only "Cline" has a configuration flow.
	ExtensionName string

	// ExtensionPath is the in-container path of the extension package.
	ExtensionPath string

	// ConfigPath is the host copy of the attacker's config tree,
	// holding the code-server config the login password is read from.
	ConfigPath string

	Agent AgentSettings
}

const sidebarLoadDelay = 10 * time.Second

// PrepareWorkstation installs the agent extension inside the attacker
// container, logs into the IDE, and configures the extension. Returns
// the chat frame the observer should watch.
func PrepareWorkstation(ctx context.Context, page Page, runtime containers.Runtime, attacker string, cfg SetupConfig, logger *slog.Logger) (Frame, error) {
	return prepareWorkstation(ctx, page, runtime, attacker, cfg, clock.Real(), logger)
}

func prepareWorkstation(ctx context.Context, page Page, runtime containers.Runtime, attacker string, cfg SetupConfig, clk clock.Clock, logger *slog.Logger) (Frame, error) {
	if err := InstallExtension(ctx, runtime, attacker, cfg.ExtensionPath, logger); err != nil {
		return nil, err
	}
	if err := Login(ctx, page, cfg.ConfigPath, logger); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-clk.After(2 * time.Second):
	}

	trust := page.ByRole("button", "Yes, I trust the authors")
	if visible, err := trust.Visible(ctx); err == nil && visible {
		if err := trust.Click(ctx); err != nil {
			return nil, fmt.Errorf("dismissing trust dialog: %w", err)
		}
	}

	logger.Info("opening extension sidebar", "extension", cfg.ExtensionName)
	sidebar := page.BySelector(fmt.Sprintf(".activitybar .action-item [aria-label*=%q]", cfg.ExtensionName))
	if err := sidebar.Click(ctx); err != nil {
		return nil, fmt.Errorf("opening extension sidebar: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-clk.After(sidebarLoadDelay):
	}

	if cfg.ExtensionName != "Cline" {
		return nil, fmt.Errorf("no configuration flow for extension %q", cfg.ExtensionName)
	}
	return ConfigureCline(ctx, page, cfg.Agent, logger)
}

// InstallExtension installs the extension package inside the attacker
// container via code-server's CLI.
func InstallExtension(ctx context.Context, runtime containers.Runtime, attacker, vsixPath string, logger *slog.Logger) error {
	logger.Info("installing extension", "path", vsixPath)
	cmd := []string{
		"bash", "-lc",
		fmt.Sprintf(`su - coder -c "code-server --install-extension %s"`, vsixPath),
	}
	result, err := runtime.Exec(ctx, attacker, "", cmd)
	if err != nil {
		return fmt.Errorf("installing extension: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("extension install exited with status %d: %s", result.ExitCode, result.Output)
	}
	return nil
}

type codeServerConfig struct {
	Password string `yaml:"password"`
}

// Login submits the IDE's password form when shown. Already being
// logged in is not an error, which makes the flow idempotent across
// reconnects.
func Login(ctx context.Context, page Page, configPath string, logger *slog.Logger) error {
	passwordBox := page.ByPlaceholder("PASSWORD")
	visible, err := passwordBox.Visible(ctx)
	if err != nil {
		return fmt.Errorf("probing login form: %w", err)
	}
	if !visible {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(configPath, "code-server", "config.yaml"))
	if err != nil {
		return fmt.Errorf("reading code-server config: %w", err)
	}
	var cfg codeServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing code-server config: %w", err)
	}
	if cfg.Password == "" {
		return fmt.Errorf("code-server config has no password")
	}

	logger.Info("logging into workstation IDE")
	if err := passwordBox.Fill(ctx, cfg.Password); err != nil {
		return fmt.Errorf("filling password: %w", err)
	}
	if err := page.ByRole("button", "Submit").Click(ctx); err != nil {
		return fmt.Errorf("submitting login: %w", err)
	}
	return nil
}

// ClineFrameSelector matches the iframe the Cline extension renders
// into.
const ClineFrameSelector = "iframe[src*='extensionId=saoudrizwan.claude-dev']"

// ConfigureCline walks the Cline extension's first-run flow: provider
// credentials, optional MCP server configuration, and the approval
// policy. Returns the extension's content frame.
func ConfigureCline(ctx context.Context, page Page, settings AgentSettings, logger *slog.Logger) (Frame, error) {
	frame := page.ChildFrame(ClineFrameSelector).ChildFrame("#active-frame")

	getStarted := frame.ByRole("button", "Use your own API key")
	if err := getStarted.WaitVisible(ctx, 60*time.Second); err != nil {
		return nil, fmt.Errorf("waiting for extension onboarding: %w", err)
	}
	if err := getStarted.Click(ctx); err != nil {
		return nil, fmt.Errorf("starting onboarding: %w", err)
	}

	logger.Info("configuring agent provider", "provider", settings.Provider, "model", settings.Model)
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"provider name", func(ctx context.Context) error {
			return frame.ByRole("textbox", "Text field").Fill(ctx, settings.Provider)
		}},
		{"provider option", func(ctx context.Context) error {
			return frame.ByTestID("provider-option-openai").Click(ctx)
		}},
		{"base URL", func(ctx context.Context) error {
			return frame.ByRole("button", "Base URL Text field").Child("#control").Fill(ctx, settings.BaseURL)
		}},
		{"API key", func(ctx context.Context) error {
			return frame.ByRole("textbox", "OpenAI Compatible API Key").Fill(ctx, settings.APIKey)
		}},
		{"model id", func(ctx context.Context) error {
			return frame.ByRole("textbox", "Model ID").Fill(ctx, settings.Model)
		}},
		{"confirm", func(ctx context.Context) error {
			return frame.ByRole("button", "Let's go!").Click(ctx)
		}},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return nil, fmt.Errorf("configuring %s: %w", step.name, err)
		}
	}

	if len(settings.MCPConfig) > 0 {
		if err := configureMCPServers(ctx, page, frame, settings.MCPConfig, logger); err != nil {
			return nil, err
		}
	}

	if !settings.AutoApprove {
		if err := disableAutoApprove(ctx, frame); err != nil {
			return nil, err
		}
	}
	logger.Info("agent extension configured")
	return frame, nil
}

func configureMCPServers(ctx context.Context, page Page, frame Frame, raw []byte, logger *slog.Logger) error {
	// Operators hand-write connector configs; accept comments and
	// trailing commas, but type strict JSON into the editor.
	normalized := jsonc.ToJSON(raw)
	logger.Info("configuring MCP servers", "bytes", len(normalized))

	if err := frame.ByRole("button", "").Click(ctx); err != nil {
		return fmt.Errorf("opening server menu: %w", err)
	}
	if err := frame.ByRole("dialog", "").Child("span").Nth(0).Click(ctx); err != nil {
		return fmt.Errorf("selecting server dialog: %w", err)
	}
	if err := frame.ByRole("button", " Configure MCP Servers").Click(ctx); err != nil {
		return fmt.Errorf("opening MCP settings: %w", err)
	}
	if err := page.ByText(`{ "mcpServers": { }}`).Click(ctx); err != nil {
		return fmt.Errorf("focusing settings editor: %w", err)
	}

	kb := page.Keyboard()
	if err := kb.Press(ctx, "Control+A"); err != nil {
		return err
	}
	if err := kb.Press(ctx, "Backspace"); err != nil {
		return err
	}
	if err := kb.Type(ctx, string(normalized)); err != nil {
		return err
	}
	if err := frame.ByRole("button", "Done").Click(ctx); err != nil {
		return fmt.Errorf("saving MCP settings: %w", err)
	}
	return nil
}

func disableAutoApprove(ctx context.Context, frame Frame) error {
	if err := frame.BySelector(".codicon.codicon-chevron-up").Click(ctx); err != nil {
		return fmt.Errorf("expanding approval settings: %w", err)
	}
	if err := frame.ByRole("button", "Execute safe commands").Click(ctx); err != nil {
		return fmt.Errorf("toggling safe-command approval: %w", err)
	}
	if err := frame.BySelector(".group > .codicon").Click(ctx); err != nil {
		return fmt.Errorf("collapsing approval settings: %w", err)
	}
	return nil
}
