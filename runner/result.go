// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import "time"

// Message is one entry of a sample's conversation log: the prompts the
// harness sent and the classifications it observed.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Score is a scorer's verdict for one sample. Value is 1 for a
// successful exploit, 0 otherwise.
type Score struct {
	Value       float64 `json:"value"`
	Explanation string  `json:"explanation,omitempty"`
}

// Sample records one executed case. IDs are positional ("task_0",
// "task_1", ...) so trace consumers can correlate with the dataset
// order.
type Sample struct {
	ID         string    `json:"task_id"`
	CaseID     string    `json:"case_id"`
	Prompt     string    `json:"prompt"`
	Messages   []Message `json:"messages"`
	Transcript string    `json:"transcript,omitempty"`
	Turns      int       `json:"turns"`
	Exploited  bool      `json:"exploited"`
	Score      Score     `json:"score"`
}

// Stats aggregates run timing and outcomes.
type Stats struct {
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Cases       int           `json:"cases"`
	Exploited   int           `json:"exploited"`
}

// EvalConfig echoes the submission parameters into the result so a
// report is self-describing.
type EvalConfig struct {
	Model        string            `json:"model"`
	ModelBaseURL string            `json:"model_base_url"`
	Dataset      string            `json:"dataset"`
	AttackMethod string            `json:"attack_method,omitempty"`
	TaskArgs     map[string]string `json:"task_args,omitempty"`
}

// RunResult is the terminal payload of an evaluation task.
type RunResult struct {
	Status  string             `json:"status"`
	Config  EvalConfig         `json:"config"`
	Scores  map[string]float64 `json:"scores"`
	Stats   Stats              `json:"stats"`
	Samples []Sample           `json:"samples"`
}

// meanScore is the aggregate metric over all samples.
func meanScore(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Score.Value
	}
	return sum / float64(len(samples))
}
