// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Command redharness-run executes one evaluation locally, without the
// HTTP service: it builds the sandbox environment, drives the agent
// through every dataset case, prints per-case outcomes, and writes the
// full result as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/agentsphere/redharness/agentui"
	"github.com/agentsphere/redharness/containers"
	"github.com/agentsphere/redharness/lib/clock"
	"github.com/agentsphere/redharness/lib/config"
	"github.com/agentsphere/redharness/lib/process"
	"github.com/agentsphere/redharness/lib/version"
	"github.com/agentsphere/redharness/orchestrator"
	"github.com/agentsphere/redharness/runner"
	"github.com/agentsphere/redharness/telemetry"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		datasetPath string
		caseID      string
		model       string
		output      string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "redharness.yaml", "path to the configuration file")
	pflag.StringVar(&datasetPath, "dataset", "", "path to the dataset JSON file (required)")
	pflag.StringVar(&caseID, "case", "", "run only the named case")
	pflag.StringVar(&model, "model", "", "model id override")
	pflag.StringVar(&output, "output", "result.json", "path for the result JSON")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		version.Print("redharness-run")
		return nil
	}
	if datasetPath == "" {
		return fmt.Errorf("--dataset is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if model == "" {
		model = cfg.Agent.Model
	}

	dataset, err := runner.LoadDataset(datasetPath)
	if err != nil {
		return err
	}
	if caseID != "" {
		dataset, err = selectCase(dataset, caseID)
		if err != nil {
			return err
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := containers.NewDockerRuntime(logger)
	if err != nil {
		return err
	}
	defer runtime.Close()
	if err := runtime.Ping(ctx); err != nil {
		return err
	}

	env := cfg.Environment
	orch := orchestrator.New(runtime, orchestrator.Config{
		Mode:          orchestrator.Mode(env.Mode),
		Project:       env.Project,
		UseProxy:      env.UseProxy,
		WorkspacePath: cfg.Paths.Workspace,
		ConfigPath:    cfg.Paths.AgentConfig,
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
		LogDir:         filepath.Join(cfg.Paths.Data, "logs"),
	}, logger)

	scorer := &runner.ExploitScorer{
		Runtime:   runtime,
		Container: env.Project + "-" + string(orchestrator.RoleTarget),
	}
	r := runner.New(runtime, orch, runner.ChromePages(cfg.Run.Headless), scorer, runner.Config{
		Dataset: dataset,
		Setup: agentui.SetupConfig{
			ExtensionName: "Cline",
			ExtensionPath: env.ExtensionPath,
			ConfigPath:    cfg.Paths.AgentConfig,
			Agent: agentui.AgentSettings{
				Provider:    cfg.Agent.Provider,
				BaseURL:     cfg.Agent.BaseURL,
				APIKey:      os.Getenv(cfg.Agent.APIKeyEnv),
				Model:       model,
				AutoApprove: cfg.Agent.AutoApprove,
			},
		},
		Eval: runner.EvalConfig{
			Model:        model,
			ModelBaseURL: cfg.Agent.BaseURL,
		},
		Check:              scorer.Check,
		MaxTurns:           cfg.Run.MaxTurns,
		ScreenshotInterval: cfg.Run.ScreenshotInterval.Std(),
	}, logger)

	hub := telemetry.NewHub(logger)
	taskID := telemetry.NewTaskID(clock.Real())
	task, err := hub.Register(taskID)
	if err != nil {
		return err
	}
	if err := hub.Run(taskID, func() (any, error) { return r.Run(ctx, task) }); err != nil {
		return err
	}
	hub.Wait(taskID)

	if task.Status() == telemetry.StatusError {
		return fmt.Errorf("evaluation failed: %s", task.Err())
	}
	result, isResult := task.Result().(*runner.RunResult)
	if !isResult || result == nil {
		return fmt.Errorf("evaluation produced no result")
	}

	for _, sample := range result.Samples {
		outcome := "not exploited"
		if sample.Exploited {
			outcome = "exploited"
		}
		fmt.Printf("%s  %-40s  turns=%d  score=%.0f  %s\n",
			sample.ID, sample.CaseID, sample.Turns, sample.Score.Value, outcome)
	}
	fmt.Printf("mean score: %.2f over %d cases\n", result.Scores["mean"], result.Stats.Cases)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	logger.Info("result written", "path", output)
	return nil
}

// selectCase narrows the dataset to one named case.
func selectCase(d runner.Dataset, id string) (runner.Dataset, error) {
	for _, c := range d.Cases {
		if c.ID == id {
			d.Cases = []runner.Case{c}
			return d, nil
		}
	}
	return runner.Dataset{}, fmt.Errorf("dataset %q has no case %q", d.Name, id)
}
