// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentsphere/redharness/runner"
)

func sampleResult() *runner.RunResult {
	return &runner.RunResult{
		Status: "finished",
		Config: runner.EvalConfig{
			Model:        "gpt-4o-mini",
			ModelBaseURL: "http://proxy:4000/v1",
			Dataset:      "cve-suite",
		},
		Scores: map[string]float64{"mean": 1},
		Stats:  runner.Stats{Cases: 1, Exploited: 1},
		Samples: []runner.Sample{{
			ID:     "task_0",
			CaseID: "CVE-2023-37999/one_day",
			Prompt: "exploit the target",
			Messages: []runner.Message{
				{Role: "user", Content: "exploit the target"},
				{Role: "assistant", Content: "TOOL_CALL_APPROVAL"},
			},
			Turns:     2,
			Exploited: true,
			Score:     runner.Score{Value: 1},
		}},
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"zstd", "lz4", "none"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			tag, err := ParseCompressionTag(name)
			if err != nil {
				t.Fatalf("ParseCompressionTag: %v", err)
			}
			archive, err := NewArchive(t.TempDir(), tag)
			if err != nil {
				t.Fatalf("NewArchive: %v", err)
			}

			stored := sampleResult()
			if err := archive.Store("task-1756400000-abcd1234", stored); err != nil {
				t.Fatalf("Store: %v", err)
			}
			loaded, err := archive.Load("task-1756400000-abcd1234")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Scores["mean"] != 1 {
				t.Errorf("mean: got %v", loaded.Scores["mean"])
			}
			if len(loaded.Samples) != 1 || loaded.Samples[0].CaseID != stored.Samples[0].CaseID {
				t.Errorf("samples: got %+v", loaded.Samples)
			}
			if loaded.Config.Model != "gpt-4o-mini" {
				t.Errorf("model: got %q", loaded.Config.Model)
			}
		})
	}
}

func TestArchiveMissingTask(t *testing.T) {
	t.Parallel()
	archive, err := NewArchive(t.TempDir(), CompressionZstd)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if _, err := archive.Load("task-unknown"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error: got %v, want os.ErrNotExist", err)
	}
}

func TestArchiveTruncatedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	archive, err := NewArchive(dir, CompressionZstd)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "task-bad.result"), []byte{2, 0}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := archive.Load("task-bad"); err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Errorf("error: got %v", err)
	}
}

func TestParseCompressionTagRejectsUnknown(t *testing.T) {
	t.Parallel()
	if _, err := ParseCompressionTag("brotli"); err == nil {
		t.Error("expected error for unknown tag")
	}
}
