// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentsphere/redharness/agentui"
)

// fakeUI scripts an attacker IDE as a sequence of visibility states,
// keyed "<kind>/<identifier>". Clicking advances to the next state.
type fakeUI struct {
	mu        sync.Mutex
	states    []map[string]bool
	state     int
	values    map[string]string
	counts    map[string]int
	clicks    []string
	focused   string
	selectAll bool
}

func newFakeUI(states ...map[string]bool) *fakeUI {
	if len(states) == 0 {
		states = []map[string]bool{{}}
	}
	return &fakeUI{
		states: states,
		values: make(map[string]string),
		counts: make(map[string]int),
	}
}

func (ui *fakeUI) Clicks() []string {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return append([]string(nil), ui.clicks...)
}

type fakePage struct {
	fakeFrame
	navigated []string
}

func newFakePage(ui *fakeUI) *fakePage {
	return &fakePage{fakeFrame: fakeFrame{ui: ui}}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) Keyboard() agentui.Keyboard { return fakeKeyboard{ui: p.ui} }

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

type fakeFrame struct {
	ui *fakeUI
}

func (f fakeFrame) ByRole(role, name string) agentui.Locator {
	return fakeLocator{ui: f.ui, key: role + "/" + name}
}
func (f fakeFrame) ByTestID(id string) agentui.Locator {
	return fakeLocator{ui: f.ui, key: "testid/" + id}
}
func (f fakeFrame) ByText(text string) agentui.Locator {
	return fakeLocator{ui: f.ui, key: "text/" + text}
}
func (f fakeFrame) ByPlaceholder(ph string) agentui.Locator {
	return fakeLocator{ui: f.ui, key: "placeholder/" + ph}
}
func (f fakeFrame) BySelector(sel string) agentui.Locator {
	return fakeLocator{ui: f.ui, key: "css/" + sel}
}
func (f fakeFrame) ChildFrame(selector string) agentui.Frame { return f }

type fakeLocator struct {
	ui  *fakeUI
	key string
}

func (l fakeLocator) Visible(ctx context.Context) (bool, error) {
	l.ui.mu.Lock()
	defer l.ui.mu.Unlock()
	return l.ui.states[l.ui.state][l.key], nil
}

func (l fakeLocator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	visible, err := l.Visible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("%s not visible", l.key)
	}
	return nil
}

func (l fakeLocator) Click(ctx context.Context) error {
	l.ui.mu.Lock()
	defer l.ui.mu.Unlock()
	l.ui.clicks = append(l.ui.clicks, l.key)
	if l.ui.state < len(l.ui.states)-1 {
		l.ui.state++
	}
	return nil
}

func (l fakeLocator) Fill(ctx context.Context, text string) error {
	l.ui.mu.Lock()
	defer l.ui.mu.Unlock()
	l.ui.values[l.key] = text
	return nil
}

func (l fakeLocator) Focus(ctx context.Context) error {
	l.ui.mu.Lock()
	defer l.ui.mu.Unlock()
	l.ui.focused = l.key
	return nil
}

func (l fakeLocator) Hover(ctx context.Context) error { return nil }

func (l fakeLocator) Count(ctx context.Context) (int, error) {
	l.ui.mu.Lock()
	defer l.ui.mu.Unlock()
	if count, ok := l.ui.counts[l.key]; ok {
		return count, nil
	}
	if l.ui.states[l.ui.state][l.key] {
		return 1, nil
	}
	return 0, nil
}

func (l fakeLocator) Value(ctx context.Context) (string, error) {
	l.ui.mu.Lock()
	defer l.ui.mu.Unlock()
	return l.ui.values[l.key], nil
}

func (l fakeLocator) Nth(index int) agentui.Locator { return l }

func (l fakeLocator) Child(selector string) agentui.Locator {
	return fakeLocator{ui: l.ui, key: l.key + ">" + selector}
}

type fakeKeyboard struct {
	ui *fakeUI
}

func (k fakeKeyboard) Press(ctx context.Context, key string) error {
	k.ui.mu.Lock()
	defer k.ui.mu.Unlock()
	switch key {
	case "Control+A":
		k.ui.selectAll = true
	case "Backspace":
		if k.ui.selectAll {
			k.ui.values[k.ui.focused] = ""
			k.ui.selectAll = false
		}
	}
	return nil
}

func (k fakeKeyboard) Type(ctx context.Context, text string) error {
	k.ui.mu.Lock()
	defer k.ui.mu.Unlock()
	k.ui.values[k.ui.focused] += text
	return nil
}
