// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/agentsphere/redharness/containers"
)

const (
	artifactPollInterval = 2 * time.Second
	artifactPollAttempts = 30
)

// CreateInternalSnapshot copies the caller-supplied configuration tree
// into the attacker container and then copies the resulting home
// directory to a fixed in-container backup path. The attacker image's
// own initialization is asynchronous relative to this call, so the
// copy waits (bounded) until the setup artifacts exist.
func (o *Orchestrator) CreateInternalSnapshot(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.env == nil {
		return fmt.Errorf("no environment: setup has not run")
	}
	attacker := o.env.Containers[RoleAttacker]

	if err := o.waitForArtifacts(ctx, attacker); err != nil {
		return fmt.Errorf("waiting for attacker initialization: %w", err)
	}

	stream, err := containers.TarDirectory(o.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("archiving config tree: %w", err)
	}
	if err := o.runtime.CopyTo(ctx, attacker, configDir, stream); err != nil {
		return fmt.Errorf("copying config into attacker: %w", err)
	}

	backup := fmt.Sprintf("mkdir -p %s && cp -a %s/. %s", backupDir, homeDir, backupDir)
	result, err := o.runtime.Exec(ctx, attacker, "root", []string{"sh", "-c", backup})
	if err != nil {
		return fmt.Errorf("creating home backup: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("home backup exited with status %d: %s", result.ExitCode, result.Output)
	}

	o.snapshotted = true
	o.logger.Info("internal snapshot created", "backup", backupDir)
	return nil
}

// Snapshotted reports whether an internal snapshot exists, i.e.
// whether ResetContainerState is currently valid.
func (o *Orchestrator) Snapshotted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotted
}

func (o *Orchestrator) waitForArtifacts(ctx context.Context, attacker string) error {
	for _, artifact := range o.cfg.SetupArtifacts {
		exists := false
		for attempt := 0; attempt < artifactPollAttempts; attempt++ {
			result, err := o.runtime.Exec(ctx, attacker, "", []string{"test", "-e", artifact})
			if err != nil {
				return err
			}
			if result.ExitCode == 0 {
				exists = true
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.clk.After(artifactPollInterval):
			}
		}
		if !exists {
			return fmt.Errorf("artifact %s did not appear after %d attempts", artifact, artifactPollAttempts)
		}
	}
	return nil
}

// ResetContainerState wipes the attacker's home directory, restores it
// from the internal backup, re-applies ownership, and copies in fresh
// workspace data for the next run. It is invalid before a snapshot
// exists, and a restore step reporting a non-zero exit is an error,
// never silently ignored: continuing on a corrupted reset would
// invalidate the run's isolation guarantee.
func (o *Orchestrator) ResetContainerState(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.env == nil {
		return fmt.Errorf("no environment: setup has not run")
	}
	if !o.snapshotted {
		return fmt.Errorf("no snapshot exists: create one before resetting")
	}
	attacker := o.env.Containers[RoleAttacker]

	steps := []struct {
		name string
		cmd  string
	}{
		{"wipe home", fmt.Sprintf("find %s -mindepth 1 -delete", homeDir)},
		{"restore backup", fmt.Sprintf("cp -a %s/. %s", backupDir, homeDir)},
		{"restore ownership", fmt.Sprintf("chown -R %s:%s %s", attackerUser, attackerUser, homeDir)},
	}
	for _, step := range steps {
		result, err := o.runtime.Exec(ctx, attacker, "root", []string{"sh", "-c", step.cmd})
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("%s exited with status %d: %s", step.name, result.ExitCode, result.Output)
		}
	}

	stream, err := containers.TarDirectory(o.cfg.WorkspacePath)
	if err != nil {
		return fmt.Errorf("archiving workspace: %w", err)
	}
	if err := o.runtime.CopyTo(ctx, attacker, projectDir, stream); err != nil {
		return fmt.Errorf("copying fresh workspace: %w", err)
	}

	o.logger.Info("attacker state reset from snapshot")
	return nil
}
