// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"context"
	"fmt"
)

// TranscriptPath is where the exported conversation lands inside the
// attacker container.
const TranscriptPath = "/home/coder/project/conversation_history.md"

// FetchTranscript drives the agent's export flow and returns the
// in-container path of the exported conversation. The whole flow is
// retry-wrapped because the history panel renders lazily; individual
// finicky steps carry their own inner retries on top.
func (o *Observer) FetchTranscript(ctx context.Context) (string, error) {
	err := o.withRetry(ctx, "export transcript", func(ctx context.Context) error {
		return o.exportTranscript(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("fetching transcript: %w", err)
	}
	return TranscriptPath, nil
}

func (o *Observer) exportTranscript(ctx context.Context) error {
	if err := o.page.ByRole("button", "History").Click(ctx); err != nil {
		return fmt.Errorf("opening history: %w", err)
	}

	// The export affordance appears on hover over the history entry's
	// star, and the panel sometimes renders more than one EXPORT label.
	if err := o.withRetry(ctx, "click export", func(ctx context.Context) error {
		if err := o.chat.BySelector(".codicon.codicon-star-empty").Hover(ctx); err != nil {
			return err
		}
		export := o.chat.ByText("EXPORT")
		count, err := export.Count(ctx)
		if err != nil {
			return err
		}
		switch {
		case count == 0:
			return fmt.Errorf("export control not found")
		case count == 1:
			return export.Click(ctx)
		default:
			return export.Nth(0).Click(ctx)
		}
	}); err != nil {
		return err
	}

	pathBox := o.page.ByRole("textbox", "Type to narrow down results.")
	if err := pathBox.Focus(ctx); err != nil {
		return fmt.Errorf("focusing path box: %w", err)
	}

	if err := o.withRetry(ctx, "enter export path", func(ctx context.Context) error {
		kb := o.page.Keyboard()
		if err := kb.Press(ctx, "Control+A"); err != nil {
			return err
		}
		if err := kb.Press(ctx, "Backspace"); err != nil {
			return err
		}
		if err := kb.Type(ctx, TranscriptPath); err != nil {
			return err
		}
		value, err := pathBox.Value(ctx)
		if err != nil {
			return err
		}
		if value != TranscriptPath {
			return fmt.Errorf("path box holds %q, want %q", value, TranscriptPath)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := o.page.ByRole("button", "OK").Click(ctx); err != nil {
		return fmt.Errorf("confirming export path: %w", err)
	}

	// A missing target folder raises one dialog; dismiss it once and
	// the export proceeds into the created folder.
	missing := o.page.ByText("The folder project does not")
	if visible, err := missing.Visible(ctx); err == nil && visible {
		o.logger.Info("dismissing missing-folder dialog")
		if err := o.page.ByRole("button", "OK").Click(ctx); err != nil {
			return fmt.Errorf("dismissing folder dialog: %w", err)
		}
	}

	if err := o.page.ByRole("tab", "Explorer (Ctrl+Shift+E)").Click(ctx); err != nil {
		return fmt.Errorf("revealing explorer: %w", err)
	}
	return nil
}
