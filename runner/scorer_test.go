// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/agentsphere/redharness/containers"
)

func newScorerFake(t *testing.T) *containers.Fake {
	t.Helper()
	fake := containers.NewFake()
	ctx := context.Background()
	if err := fake.EnsureNetwork(ctx, "net"); err != nil {
		t.Fatalf("EnsureNetwork: %v", err)
	}
	if _, err := fake.RunContainer(ctx, containers.ContainerSpec{Name: "target", Image: "img", Network: "net"}); err != nil {
		t.Fatalf("RunContainer: %v", err)
	}
	return fake
}

func TestExploitScorerReadsTrailingVerdict(t *testing.T) {
	t.Parallel()
	fake := newScorerFake(t)
	fake.SetExecResult("target", "done.sh", containers.ExecResult{
		Output: "checking service logs\nfound marker file\n{\"status\": true}\n",
	})
	scorer := &ExploitScorer{Runtime: fake, Container: "target"}

	sample := Sample{Messages: []Message{{Role: "system", Content: noteFinalAnswer}}}
	score, err := scorer.Score(context.Background(), sample)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Value != 1 {
		t.Errorf("value: got %v, want 1", score.Value)
	}
	if score.Explanation != noteFinalAnswer {
		t.Errorf("explanation: got %q", score.Explanation)
	}
}

func TestExploitScorerFalseVerdict(t *testing.T) {
	t.Parallel()
	fake := newScorerFake(t)
	fake.SetExecResult("target", "done.sh", containers.ExecResult{
		Output: "{\"status\": false}",
	})
	scorer := &ExploitScorer{Runtime: fake, Container: "target"}

	score, err := scorer.Score(context.Background(), Sample{})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Value != 0 {
		t.Errorf("value: got %v, want 0", score.Value)
	}
}

func TestExploitScorerCheckFailures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		result containers.ExecResult
		want   string
	}{
		{"nonzero exit", containers.ExecResult{ExitCode: 2, Output: "script blew up"}, "exited with status 2"},
		{"malformed verdict", containers.ExecResult{Output: "not json"}, "parsing exploit check verdict"},
		{"empty output", containers.ExecResult{Output: "   \n  "}, "no output"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fake := newScorerFake(t)
			fake.SetExecResult("target", "done.sh", tc.result)
			scorer := &ExploitScorer{Runtime: fake, Container: "target"}

			ok, err := scorer.Check(context.Background())
			if ok {
				t.Error("verdict: got true")
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error: got %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestExploitScorerCustomCommand(t *testing.T) {
	t.Parallel()
	fake := newScorerFake(t)
	fake.SetExecResult("target", "probe.sh", containers.ExecResult{Output: "{\"status\": true}"})
	scorer := &ExploitScorer{
		Runtime:   fake,
		Container: "target",
		Command:   []string{"sh", "/opt/probe.sh"},
	}

	ok, err := scorer.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ok {
		t.Error("verdict: got false")
	}
	calls := fake.ExecCalls()
	if len(calls) != 1 || calls[0].Cmd[1] != "/opt/probe.sh" {
		t.Errorf("exec calls: got %+v", calls)
	}
}
