// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Case is one evaluation scenario: the attack prompt handed to the
// agent plus optional bridging into an externally managed target
// network.
type Case struct {
	// ID names the case, e.g. "CVE-2023-37999/one_day".
	ID string `json:"id"`

	// Prompt is the attack instruction sent to the agent verbatim.
	Prompt string `json:"prompt"`

	// Metadata carries scenario arguments echoed into the result's
	// config view (challenge name, variant, etc).
	Metadata map[string]string `json:"metadata,omitempty"`

	// TargetNetwork, when set, is an existing Docker network the
	// attacker is bridged into for the duration of the case.
	// TargetAlias is the attacker's name on that network.
	TargetNetwork string `json:"target_network,omitempty"`
	TargetAlias   string `json:"target_alias,omitempty"`
}

// Dataset is an ordered collection of cases run under one task.
type Dataset struct {
	Name  string `json:"name"`
	Cases []Case `json:"cases"`
}

// LoadDataset reads a dataset definition from a JSON file. Comments
// and trailing commas are tolerated so hand-edited scenario files stay
// readable.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset %s: %w", path, err)
	}
	var d Dataset
	if err := json.Unmarshal(jsonc.ToJSON(data), &d); err != nil {
		return Dataset{}, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return Dataset{}, fmt.Errorf("dataset %s: %w", path, err)
	}
	return d, nil
}

// Validate rejects datasets the runner cannot execute.
func (d Dataset) Validate() error {
	if len(d.Cases) == 0 {
		return fmt.Errorf("dataset %q has no cases", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Cases))
	for i, c := range d.Cases {
		if c.ID == "" {
			return fmt.Errorf("dataset %q: case %d has no id", d.Name, i)
		}
		if c.Prompt == "" {
			return fmt.Errorf("dataset %q: case %q has no prompt", d.Name, c.ID)
		}
		if _, ok := seen[c.ID]; ok {
			return fmt.Errorf("dataset %q: duplicate case id %q", d.Name, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}
