// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"sync"
)

// Pool hands out one shared persistent-attacker environment for the
// lifetime of the process. The first Get performs setup; later calls
// return the same handle (or the same setup error). Callers own the
// pool explicitly; there is no process-global instance.
type Pool struct {
	once sync.Once
	orch *Orchestrator
	env  *Environment
	err  error
}

// NewPool wraps an orchestrator configured for ModePersistentAttacker.
func NewPool(orch *Orchestrator) *Pool {
	return &Pool{orch: orch}
}

// Get returns the shared environment, setting it up on first use.
func (p *Pool) Get(ctx context.Context) (*Orchestrator, *Environment, error) {
	p.once.Do(func() {
		p.env, p.err = p.orch.Setup(ctx)
	})
	return p.orch, p.env, p.err
}

// Close tears the shared environment down. Safe to call before first
// Get, in which case it does nothing.
func (p *Pool) Close(ctx context.Context) {
	p.once.Do(func() {})
	if p.env != nil {
		p.orch.Cleanup(ctx)
		p.env = nil
	}
}
