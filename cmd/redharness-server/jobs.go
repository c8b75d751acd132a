// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentsphere/redharness/agentui"
	"github.com/agentsphere/redharness/containers"
	"github.com/agentsphere/redharness/lib/config"
	"github.com/agentsphere/redharness/orchestrator"
	"github.com/agentsphere/redharness/runner"
	"github.com/agentsphere/redharness/server"
	"github.com/agentsphere/redharness/telemetry"
)

// attackerConfigDir is where the attacker image expects its
// code-server configuration tree, mounted from Paths.AgentConfig.
const attackerConfigDir = "/home/coder/.config"

// jobFactory builds one evaluation job per accepted submission. In
// persistent mode every job shares one pooled environment; in fresh
// mode each job owns a project named after its task.
type jobFactory struct {
	ctx     context.Context
	cfg     config.Config
	runtime *containers.DockerRuntime
	pool    *orchestrator.Pool
	logger  *slog.Logger
}

func newJobFactory(ctx context.Context, cfg config.Config, runtime *containers.DockerRuntime, logger *slog.Logger) *jobFactory {
	f := &jobFactory{ctx: ctx, cfg: cfg, runtime: runtime, logger: logger}
	if orchestrator.Mode(cfg.Environment.Mode) == orchestrator.ModePersistentAttacker {
		orch := orchestrator.New(runtime, f.orchConfig(cfg.Environment.Project, ""), logger)
		f.pool = orchestrator.NewPool(orch)
	}
	return f
}

// Close tears down the pooled environment, when one exists.
func (f *jobFactory) Close() {
	if f.pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	f.pool.Close(ctx)
}

func (f *jobFactory) orchConfig(project, taskID string) orchestrator.Config {
	env := f.cfg.Environment
	logDir := filepath.Join(f.cfg.Paths.Data, "logs")
	if taskID != "" {
		logDir = filepath.Join(logDir, taskID)
	}
	return orchestrator.Config{
		Mode:          orchestrator.Mode(env.Mode),
		Project:       project,
		UseProxy:      env.UseProxy,
		WorkspacePath: f.cfg.Paths.Workspace,
		ConfigPath:    f.cfg.Paths.AgentConfig,
		Images: orchestrator.Images{
			Attacker:    env.Images.Attacker,
			Target:      env.Images.Target,
			Interceptor: env.Images.Interceptor,
			Helper:      env.Images.Helper,
		},
		AttackerUIPort: env.AttackerUIPort,
		TargetPort:     env.TargetPort,
		ProxyPort:      env.ProxyPort,
		DashboardPort:  env.DashboardPort,
		LogDir:         logDir,
	}
}

// New is the server's JobFactory. It validates everything it can at
// submission time; the returned job blocks for the whole evaluation.
func (f *jobFactory) New(req server.RunRequest, task *telemetry.Task) (func() (any, error), error) {
	if err := f.runtime.Ping(f.ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", server.ErrInfraUnavailable, err)
	}

	dataset, err := runner.LoadDataset(filepath.Join(f.cfg.Paths.Data, "datasets", req.Dataset+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: unknown dataset %q", server.ErrBadSubmission, req.Dataset)
		}
		return nil, err
	}

	setup, err := f.setupConfig(req)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = f.cfg.Agent.Model
	}
	setup.Agent.Model = model

	project := f.cfg.Environment.Project
	if f.pool == nil {
		project += "-" + taskSuffix(req.TaskID)
	}
	scorer := &runner.ExploitScorer{
		Runtime:   f.runtime,
		Container: project + "-" + string(orchestrator.RoleTarget),
	}
	runCfg := runner.Config{
		Dataset: dataset,
		Setup:   setup,
		Eval: runner.EvalConfig{
			Model:        model,
			ModelBaseURL: f.cfg.Agent.BaseURL,
			AttackMethod: req.AttackMethod,
		},
		Check:              scorer.Check,
		MaxTurns:           f.cfg.Run.MaxTurns,
		ScreenshotInterval: f.cfg.Run.ScreenshotInterval.Std(),
	}
	logger := f.logger.With("task", req.TaskID)

	return func() (any, error) {
		orch, err := f.resolveOrchestrator(project, req.TaskID, logger)
		if err != nil {
			return nil, err
		}
		r := runner.New(f.runtime, orch, runner.ChromePages(f.cfg.Run.Headless), scorer, runCfg, logger)
		return r.Run(f.ctx, task)
	}, nil
}

// resolveOrchestrator picks the pooled environment in persistent mode,
// snapshotting it on first use so later jobs start from clean attacker
// state, or builds a per-task orchestrator in fresh mode.
func (f *jobFactory) resolveOrchestrator(project, taskID string, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	if f.pool == nil {
		return orchestrator.New(f.runtime, f.orchConfig(project, taskID), logger), nil
	}
	orch, _, err := f.pool.Get(f.ctx)
	if err != nil {
		return nil, err
	}
	if !orch.Snapshotted() {
		if err := orch.CreateInternalSnapshot(f.ctx); err != nil {
			return nil, err
		}
	}
	return orch, nil
}

// setupConfig assembles the workstation preparation parameters. An
// uploaded extension is copied into the agent config tree so the
// attacker container sees it under its mounted config directory.
func (f *jobFactory) setupConfig(req server.RunRequest) (agentui.SetupConfig, error) {
	extension := f.cfg.Environment.ExtensionPath
	if req.ExtensionPath != "" {
		name := filepath.Base(req.ExtensionPath)
		hostDir := filepath.Join(f.cfg.Paths.AgentConfig, "code-server")
		if err := os.MkdirAll(hostDir, 0o755); err != nil {
			return agentui.SetupConfig{}, fmt.Errorf("creating extension directory: %w", err)
		}
		if err := copyFile(req.ExtensionPath, filepath.Join(hostDir, name)); err != nil {
			return agentui.SetupConfig{}, fmt.Errorf("staging extension: %w", err)
		}
		extension = path.Join(attackerConfigDir, "code-server", name)
	}
	return agentui.SetupConfig{
		ExtensionName: "Cline",
		ExtensionPath: extension,
		ConfigPath:    f.cfg.Paths.AgentConfig,
		Agent: agentui.AgentSettings{
			Provider:    f.cfg.Agent.Provider,
			BaseURL:     f.cfg.Agent.BaseURL,
			APIKey:      os.Getenv(f.cfg.Agent.APIKeyEnv),
			MCPConfig:   req.MCPConfig,
			AutoApprove: f.cfg.Agent.AutoApprove,
		},
	}, nil
}

// taskSuffix extracts the random tail of a task id for use in resource
// names, keeping fresh-mode projects distinct across submissions.
func taskSuffix(taskID string) string {
	if i := strings.LastIndex(taskID, "-"); i >= 0 && i < len(taskID)-1 {
		return taskID[i+1:]
	}
	return taskID
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
