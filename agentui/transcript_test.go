// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"context"
	"testing"
)

func TestFetchTranscriptHappyPath(t *testing.T) {
	t.Parallel()
	ui := newFakeUI(map[string]bool{})
	ui.counts["text/EXPORT"] = 1
	observer, _ := newTestObserver(ui)

	path, err := observer.FetchTranscript(context.Background())
	if err != nil {
		t.Fatalf("FetchTranscript: %v", err)
	}
	if path != TranscriptPath {
		t.Errorf("path: got %q", path)
	}

	clicks := ui.Clicks()
	want := []string{
		"button/History",
		"text/EXPORT",
		"button/OK",
		"tab/Explorer (Ctrl+Shift+E)",
	}
	if len(clicks) != len(want) {
		t.Fatalf("clicks: got %v, want %v", clicks, want)
	}
	for i := range want {
		if clicks[i] != want[i] {
			t.Errorf("click %d: got %q, want %q", i, clicks[i], want[i])
		}
	}
	// The export affordance only appears on hover.
	if len(ui.hovers) == 0 || ui.hovers[0] != "css/.codicon.codicon-star-empty" {
		t.Errorf("hovers: got %v", ui.hovers)
	}
	// Ctrl+A, Backspace, then the typed path must land in the box.
	if ui.values["textbox/Type to narrow down results."] != TranscriptPath {
		t.Errorf("path box: got %q", ui.values["textbox/Type to narrow down results."])
	}
}

func TestFetchTranscriptMultipleExportControls(t *testing.T) {
	t.Parallel()
	ui := newFakeUI(map[string]bool{})
	ui.counts["text/EXPORT"] = 3
	observer, _ := newTestObserver(ui)

	if _, err := observer.FetchTranscript(context.Background()); err != nil {
		t.Fatalf("FetchTranscript: %v", err)
	}
	// With several matches the first is clicked.
	found := false
	for _, click := range ui.Clicks() {
		if click == "text/EXPORT" {
			found = true
		}
	}
	if !found {
		t.Error("export control never clicked")
	}
}

func TestFetchTranscriptDismissesMissingFolderDialog(t *testing.T) {
	t.Parallel()
	ui := newFakeUI(map[string]bool{"text/The folder project does not": true})
	ui.counts["text/EXPORT"] = 1
	observer, _ := newTestObserver(ui)

	if _, err := observer.FetchTranscript(context.Background()); err != nil {
		t.Fatalf("FetchTranscript: %v", err)
	}
	okClicks := 0
	for _, click := range ui.Clicks() {
		if click == "button/OK" {
			okClicks++
		}
	}
	if okClicks != 2 {
		t.Errorf("OK clicked %d times, want 2", okClicks)
	}
}
