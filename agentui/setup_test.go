// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentsphere/redharness/containers"
)

func TestLoginFillsPasswordFromConfig(t *testing.T) {
	t.Parallel()
	configPath := t.TempDir()
	if err := os.MkdirAll(filepath.Join(configPath, "code-server"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	contents := "bind-addr: 127.0.0.1:8080\npassword: hunter2\n"
	if err := os.WriteFile(filepath.Join(configPath, "code-server", "config.yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ui := newFakeUI(map[string]bool{"placeholder/PASSWORD": true})
	page := newFakePage(ui)

	if err := Login(context.Background(), page, configPath, discardLogger()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ui.values["placeholder/PASSWORD"] != "hunter2" {
		t.Errorf("password fill: got %q", ui.values["placeholder/PASSWORD"])
	}
	clicks := ui.Clicks()
	if len(clicks) != 1 || clicks[0] != "button/Submit" {
		t.Errorf("clicks: got %v", clicks)
	}
}

func TestLoginSkipsWhenAlreadyLoggedIn(t *testing.T) {
	t.Parallel()
	ui := newFakeUI(map[string]bool{})
	page := newFakePage(ui)

	// No config on disk; the probe short-circuits before reading it.
	if err := Login(context.Background(), page, t.TempDir(), discardLogger()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(ui.Clicks()) != 0 {
		t.Errorf("clicks: got %v", ui.Clicks())
	}
}

func TestInstallExtension(t *testing.T) {
	t.Parallel()
	fake := containers.NewFake()
	ctx := context.Background()
	if err := fake.EnsureNetwork(ctx, "net"); err != nil {
		t.Fatalf("EnsureNetwork: %v", err)
	}
	if _, err := fake.RunContainer(ctx, containers.ContainerSpec{Name: "attacker", Image: "img", Network: "net"}); err != nil {
		t.Fatalf("RunContainer: %v", err)
	}

	vsix := "/home/coder/.config/code-server/cline-3.35.0.vsix"
	if err := InstallExtension(ctx, fake, "attacker", vsix, discardLogger()); err != nil {
		t.Fatalf("InstallExtension: %v", err)
	}
	calls := fake.ExecCalls()
	if len(calls) != 1 {
		t.Fatalf("exec calls: got %d", len(calls))
	}
	joined := strings.Join(calls[0].Cmd, " ")
	if !strings.Contains(joined, "code-server --install-extension "+vsix) {
		t.Errorf("install command: got %q", joined)
	}

	fake.SetExecResult("attacker", "--install-extension", containers.ExecResult{
		ExitCode: 1,
		Output:   "corrupt vsix",
	})
	err := InstallExtension(ctx, fake, "attacker", vsix, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "corrupt vsix") {
		t.Errorf("expected install failure with output, got %v", err)
	}
}

func TestConfigureClineFillsProviderDetails(t *testing.T) {
	t.Parallel()
	ui := newFakeUI(map[string]bool{"button/Use your own API key": true})
	page := newFakePage(ui)

	settings := AgentSettings{
		Provider:    "OpenAI Compatible",
		BaseURL:     "http://proxy:4000/v1",
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		AutoApprove: true,
	}
	if _, err := ConfigureCline(context.Background(), page, settings, discardLogger()); err != nil {
		t.Fatalf("ConfigureCline: %v", err)
	}

	checks := []struct {
		key  string
		want string
	}{
		{"textbox/Text field", "OpenAI Compatible"},
		{"button/Base URL Text field>#control", "http://proxy:4000/v1"},
		{"textbox/OpenAI Compatible API Key", "sk-test"},
		{"textbox/Model ID", "gpt-4o-mini"},
	}
	for _, check := range checks {
		if ui.values[check.key] != check.want {
			t.Errorf("%s: got %q, want %q", check.key, ui.values[check.key], check.want)
		}
	}
	var sawConfirm bool
	for _, click := range ui.Clicks() {
		if click == "button/Let's go!" {
			sawConfirm = true
		}
	}
	if !sawConfirm {
		t.Error("confirm button never clicked")
	}
}

func TestConfigureClineNormalizesMCPConfig(t *testing.T) {
	t.Parallel()
	ui := newFakeUI(map[string]bool{"button/Use your own API key": true})
	page := newFakePage(ui)

	settings := AgentSettings{
		Provider:    "OpenAI Compatible",
		BaseURL:     "http://proxy:4000/v1",
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		AutoApprove: true,
		// Operators write JSONC; comments must not reach the editor.
		MCPConfig: []byte("{\n  // exfil target\n  \"mcpServers\": {\"zk\": {\"url\": \"http://target:8000\"}}\n}"),
	}
	if _, err := ConfigureCline(context.Background(), page, settings, discardLogger()); err != nil {
		t.Fatalf("ConfigureCline: %v", err)
	}

	var typed string
	for _, value := range ui.values {
		if strings.Contains(value, "mcpServers") {
			typed = value
		}
	}
	if typed == "" {
		t.Fatal("MCP config never typed")
	}
	if strings.Contains(typed, "// exfil target") {
		t.Errorf("comment leaked into editor: %q", typed)
	}
	if !strings.Contains(typed, `"url"`) {
		t.Errorf("server config missing: %q", typed)
	}
}
