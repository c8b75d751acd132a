// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package agentui

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// ChromePage implements Page over a chromedp browser context. Element
// resolution runs as injected JavaScript so locators can descend
// through code-server's same-origin iframes uniformly.
type ChromePage struct {
	browser context.Context
}

// NewChromePage wraps an allocated chromedp context. The caller owns
// the context's lifetime.
func NewChromePage(browser context.Context) *ChromePage {
	return &ChromePage{browser: browser}
}

var (
	_ Page     = (*ChromePage)(nil)
	_ Keyboard = (*ChromePage)(nil)
)

func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	if err := chromedp.Run(p.browser, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (p *ChromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(p.browser, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

func (p *ChromePage) Keyboard() Keyboard { return p }

// Press dispatches a key chord to the focused element. Supported
// chords are single keys ("Backspace", "Enter") and "Control+<letter>".
func (p *ChromePage) Press(ctx context.Context, key string) error {
	var modifiers input.Modifier
	if len(key) > 8 && key[:8] == "Control+" {
		modifiers = input.ModifierCtrl
		key = key[8:]
	}
	down := &input.DispatchKeyEventParams{
		Type:      input.KeyDown,
		Key:       key,
		Modifiers: modifiers,
	}
	up := &input.DispatchKeyEventParams{
		Type:      input.KeyUp,
		Key:       key,
		Modifiers: modifiers,
	}
	err := chromedp.Run(p.browser, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := down.Do(ctx); err != nil {
			return err
		}
		return up.Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("pressing %s: %w", key, err)
	}
	return nil
}

func (p *ChromePage) Type(ctx context.Context, text string) error {
	err := chromedp.Run(p.browser, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(text).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("typing text: %w", err)
	}
	return nil
}

// locatorStep is one element-resolution step evaluated in the page.
type locatorStep struct {
	Kind     string `json:"kind"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Index    int    `json:"index,omitempty"`
}

type chromeFrame struct {
	page   *ChromePage
	frames []string
}

func (p *ChromePage) frame() chromeFrame { return chromeFrame{page: p} }

func (p *ChromePage) ByRole(role, name string) Locator { return p.frame().ByRole(role, name) }
func (p *ChromePage) ByTestID(id string) Locator       { return p.frame().ByTestID(id) }
func (p *ChromePage) ByText(text string) Locator       { return p.frame().ByText(text) }
func (p *ChromePage) ByPlaceholder(ph string) Locator  { return p.frame().ByPlaceholder(ph) }
func (p *ChromePage) BySelector(sel string) Locator    { return p.frame().BySelector(sel) }
func (p *ChromePage) ChildFrame(selector string) Frame { return p.frame().ChildFrame(selector) }

func (f chromeFrame) locator(step locatorStep) Locator {
	return chromeLocator{page: f.page, frames: f.frames, steps: []locatorStep{step}}
}

func (f chromeFrame) ByRole(role, name string) Locator {
	return f.locator(locatorStep{Kind: "role", Role: role, Name: name})
}

func (f chromeFrame) ByTestID(id string) Locator {
	return f.locator(locatorStep{Kind: "css", Selector: fmt.Sprintf(`[data-testid=%q]`, id)})
}

func (f chromeFrame) ByText(text string) Locator {
	return f.locator(locatorStep{Kind: "text", Text: text})
}

func (f chromeFrame) ByPlaceholder(ph string) Locator {
	return f.locator(locatorStep{Kind: "css", Selector: fmt.Sprintf(`[placeholder=%q]`, ph)})
}

func (f chromeFrame) BySelector(sel string) Locator {
	return f.locator(locatorStep{Kind: "css", Selector: sel})
}

func (f chromeFrame) ChildFrame(selector string) Frame {
	frames := append(append([]string(nil), f.frames...), selector)
	return chromeFrame{page: f.page, frames: frames}
}

type chromeLocator struct {
	page   *ChromePage
	frames []string
	steps  []locatorStep
}

func (l chromeLocator) Child(selector string) Locator {
	steps := append(append([]locatorStep(nil), l.steps...), locatorStep{Kind: "css", Selector: selector})
	return chromeLocator{page: l.page, frames: l.frames, steps: steps}
}

func (l chromeLocator) Nth(index int) Locator {
	steps := append(append([]locatorStep(nil), l.steps...), locatorStep{Kind: "nth", Index: index})
	return chromeLocator{page: l.page, frames: l.frames, steps: steps}
}

// locatorScript resolves a locator descriptor in the page and applies
// one operation to the first match. Same-origin frame documents are
// walked from the descriptor's frame selector chain.
const locatorScript = `(function(desc) {
	function docsFor(frames) {
		let docs = [document];
		for (const sel of frames) {
			const next = [];
			for (const doc of docs) {
				for (const el of doc.querySelectorAll(sel)) {
					try {
						if (el.contentDocument) next.push(el.contentDocument);
					} catch (e) {}
				}
			}
			docs = next;
		}
		return docs;
	}
	function accessibleName(el) {
		const label = el.getAttribute && el.getAttribute('aria-label');
		if (label) return label.trim();
		return (el.textContent || '').trim();
	}
	function matchStep(roots, step) {
		if (step.kind === 'nth') {
			return step.index < roots.length ? [roots[step.index]] : [];
		}
		let out = [];
		for (const root of roots) {
			if (step.kind === 'css') {
				out = out.concat(Array.from(root.querySelectorAll(step.selector)));
			} else if (step.kind === 'role') {
				const implicit = {button: ',button', textbox: ',input,textarea'};
				const sel = '[role="' + step.role + '"]' + (implicit[step.role] || '');
				for (const el of root.querySelectorAll(sel)) {
					if (!step.name || accessibleName(el) === step.name) out.push(el);
				}
			} else if (step.kind === 'text') {
				for (const el of root.querySelectorAll('*')) {
					if (el.children.length === 0 && (el.textContent || '').includes(step.text)) out.push(el);
				}
			}
		}
		return out;
	}
	let matches = docsFor(desc.frames);
	for (const step of desc.steps) {
		matches = matchStep(matches, step);
	}
	function isVisible(el) {
		if (!el.getClientRects || el.getClientRects().length === 0) return false;
		const style = el.ownerDocument.defaultView.getComputedStyle(el);
		return style.visibility !== 'hidden' && style.display !== 'none';
	}
	const visible = matches.filter(isVisible);
	switch (desc.op) {
	case 'count':
		return matches.length;
	case 'visible':
		return visible.length > 0;
	}
	const el = visible[0] || matches[0];
	if (!el) throw new Error('no element matches locator');
	switch (desc.op) {
	case 'click':
		el.click();
		return true;
	case 'focus':
		el.focus();
		return true;
	case 'hover':
		el.dispatchEvent(new MouseEvent('mouseover', {bubbles: true}));
		el.dispatchEvent(new MouseEvent('mouseenter', {bubbles: true}));
		return true;
	case 'fill':
		el.focus();
		const setter = Object.getOwnPropertyDescriptor(
			el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype,
			'value');
		if (setter && setter.set) setter.set.call(el, desc.text); else el.value = desc.text;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	case 'value':
		return el.value !== undefined ? el.value : (el.textContent || '');
	}
	throw new Error('unknown op ' + desc.op);
})`

type locatorRequest struct {
	Frames []string      `json:"frames"`
	Steps  []locatorStep `json:"steps"`
	Op     string        `json:"op"`
	Text   string        `json:"text,omitempty"`
}

func (l chromeLocator) eval(op, text string, result any) error {
	request := locatorRequest{
		Frames: l.frames,
		Steps:  l.steps,
		Op:     op,
		Text:   text,
	}
	if request.Frames == nil {
		request.Frames = []string{}
	}
	desc, err := json.Marshal(request)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf("%s(%s)", locatorScript, desc)
	if err := chromedp.Run(l.page.browser, chromedp.Evaluate(expr, result)); err != nil {
		return fmt.Errorf("locator %s: %w", op, err)
	}
	return nil
}

func (l chromeLocator) Visible(ctx context.Context) (bool, error) {
	var visible bool
	if err := l.eval("visible", "", &visible); err != nil {
		return false, err
	}
	return visible, nil
}

func (l chromeLocator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		visible, err := l.Visible(ctx)
		if err == nil && visible {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("element not visible after %s: %w", timeout, err)
			}
			return fmt.Errorf("element not visible after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (l chromeLocator) Click(ctx context.Context) error {
	var ok bool
	return l.eval("click", "", &ok)
}

func (l chromeLocator) Fill(ctx context.Context, text string) error {
	var ok bool
	return l.eval("fill", text, &ok)
}

func (l chromeLocator) Focus(ctx context.Context) error {
	var ok bool
	return l.eval("focus", "", &ok)
}

func (l chromeLocator) Hover(ctx context.Context) error {
	var ok bool
	return l.eval("hover", "", &ok)
}

func (l chromeLocator) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.eval("count", "", &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (l chromeLocator) Value(ctx context.Context) (string, error) {
	var value string
	if err := l.eval("value", "", &value); err != nil {
		return "", err
	}
	return value, nil
}

// LaunchOptions configures browser startup.
type LaunchOptions struct {
	Headless bool
}

// Launch starts a browser and returns the page plus a shutdown
// function. Clipboard permissions stay default-allowed for the
// in-page copy actions some agent flows use.
func Launch(ctx context.Context, opts LaunchOptions) (*ChromePage, func(), error) {
	allocOpts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, nil, fmt.Errorf("launching browser: %w", err)
	}
	cleanup := func() {
		cancelBrowser()
		cancelAlloc()
	}
	return NewChromePage(browserCtx), cleanup, nil
}
