// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentsphere/redharness/containers"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	workspace := t.TempDir()
	configTree := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "task.md"), []byte("attack"), 0o644); err != nil {
		t.Fatalf("seeding workspace: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(configTree, "code-server"), 0o755); err != nil {
		t.Fatalf("seeding config: %v", err)
	}
	return Config{
		Mode:          ModeFreshPerRun,
		Project:       "proj",
		WorkspacePath: workspace,
		ConfigPath:    configTree,
		Images: Images{
			Attacker:    "attacker:test",
			Target:      "target:test",
			Interceptor: "interceptor:test",
			Helper:      "alpine:latest",
		},
		AttackerUIPort: 8001,
		TargetPort:     8000,
		ProxyPort:      8080,
		DashboardPort:  8081,
	}
}

func newTestOrchestrator(t *testing.T, fake *containers.Fake, cfg Config) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := New(fake, cfg, logger)
	o.dial = func(ctx context.Context, addr string) error { return nil }
	return o
}

func TestSetupBuildsEnvironment(t *testing.T) {
	t.Parallel()
	fake := containers.NewFake()
	cfg := testConfig(t)
	cfg.UseProxy = true
	o := newTestOrchestrator(t, fake, cfg)

	env, err := o.Setup(context.Background())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if env.AttackerUI != "http://localhost:8001" {
		t.Errorf("attacker UI: got %q", env.AttackerUI)
	}
	if env.Dashboard != "http://localhost:8081" {
		t.Errorf("dashboard: got %q", env.Dashboard)
	}
	for _, role := range []Role{RoleAttacker, RoleTarget, RoleInterceptor} {
		if !fake.ContainerRunning(env.Containers[role]) {
			t.Errorf("%s container not running", role)
		}
	}
	if !fake.VolumeExists("proj_data") {
		t.Error("project volume missing")
	}

	seeds := fake.OneShots()
	if len(seeds) != 1 {
		t.Fatalf("seed runs: got %d", len(seeds))
	}
	if got := strings.Join(seeds[0].Command, " "); !strings.Contains(got, "cp -a /source_data/.") {
		t.Errorf("seed command: got %q", got)
	}

	spec, ok := fake.ContainerSpecOf("proj-attacker")
	if !ok {
		t.Fatal("attacker spec missing")
	}
	if spec.Env["HTTP_PROXY"] != "http://interceptor:8080" {
		t.Errorf("attacker HTTP_PROXY: got %q", spec.Env["HTTP_PROXY"])
	}
	if spec.Env["NODE_EXTRA_CA_CERTS"] == "" {
		t.Error("attacker missing NODE_EXTRA_CA_CERTS")
	}
}

func TestSetupFailureCleansUpPartialState(t *testing.T) {
	t.Parallel()
	fake := containers.NewFake()
	cfg := testConfig(t)
	cfg.UseProxy = true
	o := newTestOrchestrator(t, fake, cfg)
	fake.FailWith("run proj-target", errors.New("image broken"))

	_, err := o.Setup(context.Background())
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("expected SetupError, got %v", err)
	}
	if setupErr.Step != "target start" {
		t.Errorf("step: got %q", setupErr.Step)
	}
	if fake.ContainerRunning("proj-interceptor") {
		t.Error("interceptor survived cleanup")
	}
	if fake.NetworkExists("proj_default") {
		t.Error("network survived cleanup")
	}
	if fake.VolumeExists("proj_data") {
		t.Error("volume survived cleanup")
	}
}

func TestSetupTwiceFails(t *testing.T) {
	t.Parallel()
	fake := containers.NewFake()
	o := newTestOrchestrator(t, fake, testConfig(t))

	if _, err := o.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, err := o.Setup(context.Background()); err == nil {
		t.Error("second Setup succeeded")
	}
}

func TestCleanupCapturesLogs(t *testing.T) {
	t.Parallel()
	fake := containers.NewFake()
	cfg := testConfig(t)
	cfg.LogDir = t.TempDir()
	o := newTestOrchestrator(t, fake, cfg)

	env, err := o.Setup(context.Background())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	fake.SetLogs(env.Containers[RoleAttacker], "boot ok\n")

	o.Cleanup(context.Background())

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "proj-attacker.log"))
	if err != nil {
		t.Fatalf("reading captured log: %v", err)
	}
	if string(data) != "boot ok\n" {
		t.Errorf("captured log: got %q", data)
	}
	if o.EnvironmentHandle() != nil {
		t.Error("environment handle survived cleanup")
	}
}
