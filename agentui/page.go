// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"context"
	"time"
)

// Locator references a UI element that may or may not exist yet.
// Probing and acting both return errors; callers treat them as
// transient and recover through the observer's error counter.
type Locator interface {
	// Visible reports whether the element currently exists and is
	// visible.
	Visible(ctx context.Context) (bool, error)

	// WaitVisible blocks until the element is visible or the timeout
	// elapses.
	WaitVisible(ctx context.Context, timeout time.Duration) error

	Click(ctx context.Context) error
	Fill(ctx context.Context, text string) error
	Focus(ctx context.Context) error
	Hover(ctx context.Context) error

	// Count returns how many elements match.
	Count(ctx context.Context) (int, error)

	// Nth narrows a multi-match locator to one element.
	Nth(index int) Locator

	// Value returns the element's current input value.
	Value(ctx context.Context) (string, error)

	// Child scopes a CSS selector under this element.
	Child(selector string) Locator
}

// Frame locates elements within one document, possibly an embedded
// iframe.
type Frame interface {
	ByRole(role, name string) Locator
	ByTestID(id string) Locator
	ByText(text string) Locator
	ByPlaceholder(placeholder string) Locator
	BySelector(selector string) Locator

	// ChildFrame descends into an iframe matched by selector.
	ChildFrame(selector string) Frame
}

// Keyboard sends input to the focused element.
type Keyboard interface {
	Press(ctx context.Context, key string) error
	Type(ctx context.Context, text string) error
}

// Page is a browser tab. It locates in the top-level document and owns
// navigation, keyboard, and screenshots.
type Page interface {
	Frame

	Navigate(ctx context.Context, url string) error
	Keyboard() Keyboard

	// Screenshot captures the full page as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
}
