// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentsphere/redharness/containers"
	"github.com/agentsphere/redharness/lib/clock"
)

// Mode selects the orchestration variant.
type Mode string

const (
	// ModeFreshPerRun creates every container per evaluation.
	ModeFreshPerRun Mode = "fresh"

	// ModePersistentAttacker keeps one long-lived attacker container
	// and bridges it into each run's target network.
	ModePersistentAttacker Mode = "persistent"
)

// Role identifies a service container within the sandbox.
type Role string

const (
	RoleAttacker    Role = "attacker"
	RoleTarget      Role = "target"
	RoleInterceptor Role = "interceptor"
)

// In-container paths fixed by the attacker image.
const (
	homeDir        = "/home/coder"
	projectDir     = "/home/coder/project"
	configDir      = "/home/coder/.config"
	backupDir      = "/opt/home_backup"
	caCertPath     = "/usr/local/share/ca-certificates/mitmproxy-ca-cert.crt"
	attackerUser   = "coder"
	attackerUIPort = "8080/tcp"
	targetPort     = "8000/tcp"
	proxyPort      = "8080/tcp"
	dashboardPort  = "8081/tcp"
)

// Images names the container image for each role plus the throwaway
// helper used to seed the project volume.
type Images struct {
	Attacker    string
	Target      string
	Interceptor string
	Helper      string
}

// Config describes the sandbox to build.
type Config struct {
	Mode    Mode
	Project string

	// UseProxy starts the interceptor and routes attacker and target
	// traffic through it.
	UseProxy bool

	// WorkspacePath is the host directory seeded into the project
	// volume and copied into the attacker on reset.
	WorkspacePath string

	// ConfigPath is the host directory mounted read-only at the
	// attacker's config tree and copied in during snapshots.
	ConfigPath string

	Images Images

	// Host ports publishing the attacker IDE, the target service, the
	// proxy endpoint, and the proxy dashboard.
	AttackerUIPort int
	TargetPort     int
	ProxyPort      int
	DashboardPort  int

	// ExtraEnv is injected into the attacker and target containers,
	// e.g. the API key the exfiltration scenarios bait with.
	ExtraEnv map[string]string

	// LogDir, when set, receives per-container log captures during
	// cleanup.
	LogDir string

	// SetupArtifacts are in-container paths whose existence signals
	// that the attacker's own initialization has finished. Snapshot
	// creation waits for all of them.
	SetupArtifacts []string
}

// Environment is the handle Setup returns.
type Environment struct {
	// AttackerUI is the operator-reachable IDE endpoint.
	AttackerUI string

	// Dashboard is the proxy dashboard endpoint, empty without proxying.
	Dashboard string

	// Network and Volume name the per-run resources.
	Network string
	Volume  string

	// Containers maps each started role to its container name.
	Containers map[Role]string
}

// SetupError wraps a failure during environment setup with the step
// that failed. Cleanup of partially created resources has already been
// attempted by the time it is returned.
type SetupError struct {
	Step string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("environment setup failed at %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// DialFunc probes a TCP address for reachability.
type DialFunc func(ctx context.Context, addr string) error

func netDial(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Orchestrator manages one sandbox environment. It is the sole mutator
// of the attacker's network-attachment state; methods are safe for
// concurrent use.
type Orchestrator struct {
	runtime containers.Runtime
	cfg     Config
	logger  *slog.Logger
	clk     clock.Clock
	dial    DialFunc

	mu          sync.Mutex
	env         *Environment
	bridged     string
	snapshotted bool
}

// New returns an Orchestrator over the given runtime. The environment
// does not exist until Setup.
func New(runtime containers.Runtime, cfg Config, logger *slog.Logger) *Orchestrator {
	if len(cfg.SetupArtifacts) == 0 {
		cfg.SetupArtifacts = []string{
			configDir + "/code-server/config.yaml",
		}
	}
	return &Orchestrator{
		runtime: runtime,
		cfg:     cfg,
		logger:  logger.With("project", cfg.Project),
		clk:     clock.Real(),
		dial:    netDial,
	}
}

func (o *Orchestrator) networkName() string { return o.cfg.Project + "_default" }
func (o *Orchestrator) volumeName() string  { return o.cfg.Project + "_data" }

func (o *Orchestrator) containerName(role Role) string {
	return o.cfg.Project + "-" + string(role)
}

// Setup builds the sandbox: network, seeded volume, interceptor first
// when proxying (so the proxy variables injected into the other
// containers resolve at start time), then target and attacker, waiting
// for each published port to accept TCP. On failure it attempts
// cleanup of everything partially created and returns a SetupError.
func (o *Orchestrator) Setup(ctx context.Context) (*Environment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.env != nil {
		return nil, fmt.Errorf("environment %s already set up", o.cfg.Project)
	}

	o.logger.Info("starting environment setup", "mode", string(o.cfg.Mode), "proxy", o.cfg.UseProxy)

	env := &Environment{
		Network:    o.networkName(),
		Volume:     o.volumeName(),
		AttackerUI: fmt.Sprintf("http://localhost:%d", o.cfg.AttackerUIPort),
		Containers: make(map[Role]string),
	}
	if o.cfg.UseProxy {
		env.Dashboard = fmt.Sprintf("http://localhost:%d", o.cfg.DashboardPort)
	}

	fail := func(step string, err error) (*Environment, error) {
		o.logger.Error("environment setup failed", "step", step, "error", err)
		o.cleanupLocked(context.WithoutCancel(ctx), env)
		return nil, &SetupError{Step: step, Err: err}
	}

	for _, ref := range o.imageRefs() {
		if err := o.runtime.EnsureImage(ctx, ref); err != nil {
			return fail("image pull", err)
		}
	}
	if err := o.runtime.EnsureNetwork(ctx, env.Network); err != nil {
		return fail("network create", err)
	}
	if err := o.runtime.EnsureVolume(ctx, env.Volume); err != nil {
		return fail("volume create", err)
	}
	if err := o.seedVolume(ctx, env.Volume); err != nil {
		return fail("volume seed", err)
	}

	serviceEnv := make(map[string]string, len(o.cfg.ExtraEnv)+5)
	for key, value := range o.cfg.ExtraEnv {
		serviceEnv[key] = value
	}

	if o.cfg.UseProxy {
		name := o.containerName(RoleInterceptor)
		_, err := o.runtime.RunContainer(ctx, containers.ContainerSpec{
			Name:    name,
			Image:   o.cfg.Images.Interceptor,
			Network: env.Network,
			Alias:   string(RoleInterceptor),
			Ports: []containers.PortBinding{
				{ContainerPort: proxyPort, HostPort: o.cfg.ProxyPort},
				{ContainerPort: dashboardPort, HostPort: o.cfg.DashboardPort},
			},
		})
		if err != nil {
			return fail("interceptor start", err)
		}
		env.Containers[RoleInterceptor] = name

		// The other services route through the interceptor by alias,
		// so these must be present in their environment at start time.
		serviceEnv["HTTP_PROXY"] = fmt.Sprintf("http://%s:8080", RoleInterceptor)
		serviceEnv["HTTPS_PROXY"] = fmt.Sprintf("http://%s:8080", RoleInterceptor)
		serviceEnv["NO_PROXY"] = "localhost,127.0.0.1"
		serviceEnv["NODE_EXTRA_CA_CERTS"] = caCertPath

		if err := o.waitForPort(ctx, o.cfg.ProxyPort); err != nil {
			return fail("interceptor readiness", err)
		}
	}

	targetName := o.containerName(RoleTarget)
	_, err := o.runtime.RunContainer(ctx, containers.ContainerSpec{
		Name:    targetName,
		Image:   o.cfg.Images.Target,
		Network: env.Network,
		Alias:   string(RoleTarget),
		Env:     serviceEnv,
		Ports: []containers.PortBinding{
			{ContainerPort: targetPort, HostPort: o.cfg.TargetPort},
		},
	})
	if err != nil {
		return fail("target start", err)
	}
	env.Containers[RoleTarget] = targetName

	attackerName := o.containerName(RoleAttacker)
	_, err = o.runtime.RunContainer(ctx, containers.ContainerSpec{
		Name:    attackerName,
		Image:   o.cfg.Images.Attacker,
		Network: env.Network,
		Alias:   string(RoleAttacker),
		Env:     serviceEnv,
		TTY:     true,
		Ports: []containers.PortBinding{
			{ContainerPort: attackerUIPort, HostPort: o.cfg.AttackerUIPort},
		},
		Mounts: []containers.Mount{
			{Source: o.cfg.ConfigPath, Target: configDir, Bind: true, ReadOnly: true},
			{Source: env.Volume, Target: projectDir},
		},
	})
	if err != nil {
		return fail("attacker start", err)
	}
	env.Containers[RoleAttacker] = attackerName

	for role, port := range map[Role]int{
		RoleTarget:   o.cfg.TargetPort,
		RoleAttacker: o.cfg.AttackerUIPort,
	} {
		if err := o.waitForPort(ctx, port); err != nil {
			return fail(string(role)+" readiness", err)
		}
	}

	o.env = env
	o.logger.Info("environment ready", "attacker_ui", env.AttackerUI, "network", env.Network)
	return env, nil
}

func (o *Orchestrator) imageRefs() []string {
	refs := []string{o.cfg.Images.Attacker, o.cfg.Images.Target, o.cfg.Images.Helper}
	if o.cfg.UseProxy {
		refs = append(refs, o.cfg.Images.Interceptor)
	}
	return refs
}

// seedVolume copies the host workspace into the project volume with a
// one-shot helper container. cp -a preserves file attributes; the
// trailing dot copies contents rather than the directory itself.
func (o *Orchestrator) seedVolume(ctx context.Context, volume string) error {
	return o.runtime.RunOneShot(ctx, containers.ContainerSpec{
		Name:    o.cfg.Project + "-seed",
		Image:   o.cfg.Images.Helper,
		Command: []string{"sh", "-c", "cp -a /source_data/. " + projectDir},
		Mounts: []containers.Mount{
			{Source: o.cfg.WorkspacePath, Target: "/source_data", Bind: true, ReadOnly: true},
			{Source: volume, Target: projectDir},
		},
	})
}

const (
	portPollInterval = 500 * time.Millisecond
	portPollAttempts = 120
)

func (o *Orchestrator) waitForPort(ctx context.Context, port int) error {
	addr := fmt.Sprintf("localhost:%d", port)
	var lastErr error
	for attempt := 0; attempt < portPollAttempts; attempt++ {
		if lastErr = o.dial(ctx, addr); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.clk.After(portPollInterval):
		}
	}
	return fmt.Errorf("%s not reachable after %d attempts: %w", addr, portPollAttempts, lastErr)
}

// Cleanup tears down everything Setup created, in reverse start order.
// Each step is independently guarded so one failure does not prevent
// the rest; container logs are captured best-effort first.
func (o *Orchestrator) Cleanup(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.env == nil {
		o.logger.Info("no environment to clean up")
		return
	}
	o.cleanupLocked(ctx, o.env)
	o.env = nil
	o.snapshotted = false
	o.bridged = ""
}

func (o *Orchestrator) cleanupLocked(ctx context.Context, env *Environment) {
	o.logger.Info("cleaning up environment")
	for _, role := range []Role{RoleAttacker, RoleTarget, RoleInterceptor} {
		name, ok := env.Containers[role]
		if !ok {
			continue
		}
		o.captureLogs(ctx, name)
		if err := o.runtime.StopContainer(ctx, name); err != nil {
			o.logger.Warn("stopping container failed", "container", name, "error", err)
		}
		if err := o.runtime.RemoveContainer(ctx, name, true); err != nil {
			o.logger.Warn("removing container failed", "container", name, "error", err)
		}
	}
	if err := o.runtime.RemoveNetwork(ctx, env.Network); err != nil {
		o.logger.Warn("removing network failed", "network", env.Network, "error", err)
	}
	if err := o.runtime.RemoveVolume(ctx, env.Volume, true); err != nil {
		o.logger.Warn("removing volume failed", "volume", env.Volume, "error", err)
	}
}

func (o *Orchestrator) captureLogs(ctx context.Context, container string) {
	if o.cfg.LogDir == "" {
		return
	}
	logs, err := o.runtime.ContainerLogs(ctx, container)
	if err != nil {
		o.logger.Warn("capturing logs failed", "container", container, "error", err)
		return
	}
	path := filepath.Join(o.cfg.LogDir, container+".log")
	if err := os.WriteFile(path, []byte(logs), 0o644); err != nil {
		o.logger.Warn("writing log capture failed", "path", path, "error", err)
	}
}

// EnvironmentHandle returns the current environment, or nil before
// Setup or after Cleanup.
func (o *Orchestrator) EnvironmentHandle() *Environment {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.env
}
