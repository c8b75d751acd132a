// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentsphere/redharness/lib/clock"
	"github.com/agentsphere/redharness/lib/retry"
)

// Action classifies what the agent UI presented on one poll.
type Action string

const (
	// ActionToolCallApproval means an approval-like control was clicked.
	ActionToolCallApproval Action = "TOOL_CALL_APPROVAL"

	// ActionFinalSubmission means the agent finished its task, or the
	// harness signaled the final poll.
	ActionFinalSubmission Action = "FINAL_SUBMISSION"

	// ActionWaitForInput means the agent is idle and needs a new prompt.
	ActionWaitForInput Action = "WAIT_FOR_INPUT"

	// ActionNoAction is the abort signal after too many consecutive
	// errors.
	ActionNoAction Action = "NO_ACTION"
)

const (
	maxErrorAttempts       = 5
	actionWaitTimeout      = 30 * time.Second
	visibilityPollInterval = 500 * time.Millisecond
	workingRepollDelay     = 5 * time.Second
)

// Observer watches the agent's chat frame and reacts to whatever it
// presents. Not safe for concurrent use; one observer drives one run.
type Observer struct {
	page   Page
	chat   Frame
	clk    clock.Clock
	logger *slog.Logger

	lastPrompt string
}

// NewObserver builds an observer over the page and the chat iframe the
// agent renders into.
func NewObserver(page Page, chat Frame, logger *slog.Logger) *Observer {
	return &Observer{
		page:   page,
		chat:   chat,
		clk:    clock.Real(),
		logger: logger,
	}
}

// rule is one entry of the prioritized classification table: the first
// rule whose control is visible is acted on, and nothing else.
type rule struct {
	name   string
	locate func() Locator
	act    func(ctx context.Context, target Locator) error
	result Action
}

func clickTarget(ctx context.Context, target Locator) error {
	return target.Click(ctx)
}

func (o *Observer) rules() []rule {
	focusInput := func(ctx context.Context, _ Locator) error {
		return o.chat.ByTestID("chat-input").Focus(ctx)
	}
	return []rule{
		{"Proceed Anyways", func() Locator { return o.chat.ByRole("button", "Proceed Anyways") }, clickTarget, ActionToolCallApproval},
		{"Resume Task", func() Locator { return o.chat.ByRole("button", "Resume Task") }, clickTarget, ActionToolCallApproval},
		{"Run Command", func() Locator { return o.chat.ByRole("button", "Run Command") }, clickTarget, ActionToolCallApproval},
		{"Save", func() Locator { return o.chat.ByRole("button", "Save") }, clickTarget, ActionToolCallApproval},
		{"Start New Task", func() Locator { return o.chat.ByRole("button", "Start New Task") }, focusInput, ActionFinalSubmission},
	}
}

// actionableControls are the controls whose appearance ends the
// bounded wait at the top of each poll.
func (o *Observer) actionableControls() []Locator {
	return []Locator{
		o.chat.ByRole("button", "Run Command"),
		o.chat.ByRole("button", "Save"),
		o.chat.ByRole("button", "Cancel"),
		o.chat.ByRole("button", "Start New Task"),
		o.chat.ByRole("button", "Resume Task"),
	}
}

// ObserveAndAct waits for the agent to present an action and executes
// it. final marks the run's last poll: a visible Reject is clicked (so
// no destructive action is left pending) and FINAL_SUBMISSION is
// reported regardless of anything else on screen.
//
// Transient failures share one consecutive-error counter: observation
// timeouts and action errors both increment it, any success path
// resets it by returning, and exceeding the cap yields NO_ACTION
// instead of looping forever.
func (o *Observer) ObserveAndAct(ctx context.Context, final bool) (Action, error) {
	errorAttempts := 0
	for {
		found, err := o.waitForActionable(ctx)
		if err != nil {
			return ActionNoAction, err
		}
		if !found {
			o.logger.Warn("timed out waiting for an agent action, agent may need input")
			errorAttempts++
			if errorAttempts >= maxErrorAttempts {
				o.logger.Error("maximum consecutive errors reached, aborting")
				return ActionNoAction, nil
			}
			if err := o.chat.ByTestID("chat-input").Focus(ctx); err != nil {
				o.logger.Warn("focusing chat input failed", "error", err)
				continue
			}
			return ActionWaitForInput, nil
		}

		if final {
			reject := o.chat.ByRole("button", "Reject")
			if visible, err := reject.Visible(ctx); err == nil && visible {
				o.logger.Info("final poll: rejecting pending action")
				if err := reject.Click(ctx); err != nil {
					o.logger.Warn("rejecting pending action failed", "error", err)
				}
			}
			return ActionFinalSubmission, nil
		}

		action, matched, err := o.applyFirstRule(ctx)
		if err != nil {
			errorAttempts++
			if errorAttempts >= maxErrorAttempts {
				o.logger.Error("maximum consecutive errors reached, aborting")
				return ActionNoAction, nil
			}
			o.logger.Warn("acting on control failed", "error", err)
			if focusErr := o.chat.ByTestID("chat-input").Focus(ctx); focusErr != nil {
				o.logger.Warn("focusing chat input failed", "error", focusErr)
			}
			continue
		}
		if matched {
			return action, nil
		}

		// Only the Cancel control is visible: the extension is still
		// working. Not actionable, not reported; wait and re-poll.
		if visible, err := o.chat.ByRole("button", "Cancel").Visible(ctx); err == nil && visible {
			o.logger.Info("agent still working, re-polling")
			if err := o.sleep(ctx, workingRepollDelay); err != nil {
				return ActionNoAction, err
			}
			continue
		}

		// The control that ended the wait vanished before
		// classification. Treat like a timeout.
		errorAttempts++
		if errorAttempts >= maxErrorAttempts {
			return ActionNoAction, nil
		}
	}
}

// applyFirstRule walks the priority table and acts on the first
// visible control. Exactly one action per poll.
func (o *Observer) applyFirstRule(ctx context.Context) (Action, bool, error) {
	for _, r := range o.rules() {
		target := r.locate()
		visible, err := target.Visible(ctx)
		if err != nil {
			return ActionNoAction, false, err
		}
		if !visible {
			continue
		}
		o.logger.Info("acting on control", "control", r.name, "classification", string(r.result))
		if err := r.act(ctx, target); err != nil {
			return ActionNoAction, false, err
		}
		return r.result, true, nil
	}
	return ActionNoAction, false, nil
}

// waitForActionable polls until any known actionable control is
// visible. Returns false on timeout; an error only for context
// cancellation or a broken probe.
func (o *Observer) waitForActionable(ctx context.Context) (bool, error) {
	deadline := o.clk.Now().Add(actionWaitTimeout)
	for {
		for _, control := range o.actionableControls() {
			visible, err := control.Visible(ctx)
			if err != nil {
				// Probe errors surface as a timeout of this wait; the
				// caller's counter handles escalation.
				o.logger.Warn("probing control failed", "error", err)
				return false, nil
			}
			if visible {
				return true, nil
			}
		}
		if !o.clk.Now().Before(deadline) {
			return false, nil
		}
		if err := o.sleep(ctx, visibilityPollInterval); err != nil {
			return false, err
		}
	}
}

func (o *Observer) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clk.After(d):
		return nil
	}
}

// SendPrompt fills the chat input and clicks send. The prompt is
// recorded so the caller can resend identical input after
// WAIT_FOR_INPUT recoveries.
func (o *Observer) SendPrompt(ctx context.Context, prompt string) error {
	o.logger.Info("sending prompt", "length", len(prompt))
	if err := o.chat.ByTestID("chat-input").Fill(ctx, prompt); err != nil {
		return err
	}
	if err := o.chat.ByTestID("send-button").Click(ctx); err != nil {
		return err
	}
	o.lastPrompt = prompt
	return nil
}

// LastPrompt returns the most recently sent prompt.
func (o *Observer) LastPrompt() string { return o.lastPrompt }

func (o *Observer) withRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	return retry.Do(ctx, o.clk, o.logger, retry.Default(), operation, fn)
}
