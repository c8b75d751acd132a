// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/agentsphere/redharness/containers"
)

// ConnectToExternalNetwork attaches the attacker container to a
// target's private network under the given alias. It is idempotent:
// current membership is checked before attaching, so redundant calls
// succeed without a duplicate endpoint. At most one external network is
// bridged at a time; bridging a new one detaches the previous first.
func (o *Orchestrator) ConnectToExternalNetwork(ctx context.Context, network, alias string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.env == nil {
		return fmt.Errorf("no environment: setup has not run")
	}
	attacker := o.env.Containers[RoleAttacker]

	if o.bridged != "" && o.bridged != network {
		if err := o.disconnectLocked(ctx, o.bridged, attacker); err != nil {
			return fmt.Errorf("detaching previous network %s: %w", o.bridged, err)
		}
		o.bridged = ""
	}

	members, err := o.runtime.NetworkContainers(ctx, network)
	if err != nil {
		return fmt.Errorf("inspecting network %s: %w", network, err)
	}
	if slices.Contains(members, attacker) {
		o.bridged = network
		return nil
	}

	if err := o.runtime.ConnectNetwork(ctx, network, attacker, alias); err != nil {
		return fmt.Errorf("bridging %s into %s: %w", attacker, network, err)
	}
	o.bridged = network
	o.logger.Info("bridged attacker into network", "network", network, "alias", alias)
	return nil
}

// DisconnectFromExternalNetwork detaches the attacker from the network
// and removes the network once nothing references it. A network or
// attachment that is already gone counts as success.
func (o *Orchestrator) DisconnectFromExternalNetwork(ctx context.Context, network string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.env == nil {
		return fmt.Errorf("no environment: setup has not run")
	}
	attacker := o.env.Containers[RoleAttacker]
	if err := o.disconnectLocked(ctx, network, attacker); err != nil {
		return err
	}
	if o.bridged == network {
		o.bridged = ""
	}
	return nil
}

func (o *Orchestrator) disconnectLocked(ctx context.Context, network, attacker string) error {
	if err := o.runtime.DisconnectNetwork(ctx, network, attacker); err != nil && !containers.IsNotFound(err) {
		return fmt.Errorf("detaching %s from %s: %w", attacker, network, err)
	}

	members, err := o.runtime.NetworkContainers(ctx, network)
	if err != nil {
		if containers.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("inspecting network %s: %w", network, err)
	}
	if len(members) > 0 {
		return nil
	}
	if err := o.runtime.RemoveNetwork(ctx, network); err != nil {
		return fmt.Errorf("removing network %s: %w", network, err)
	}
	o.logger.Info("removed unreferenced network", "network", network)
	return nil
}

// BridgedNetwork returns the currently bridged external network name,
// empty when none is attached.
func (o *Orchestrator) BridgedNetwork() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bridged
}
