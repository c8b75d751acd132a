// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package containers

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// ExecCall records one Exec invocation against the Fake.
type ExecCall struct {
	Container string
	User      string
	Cmd       []string
}

// CopyCall records one CopyTo invocation against the Fake.
type CopyCall struct {
	Container string
	DestDir   string
	Bytes     int
}

type fakeContainer struct {
	spec    ContainerSpec
	running bool
}

// Fake is an in-memory Runtime for tests. It tracks networks, volumes,
// and containers, enforces the same existence rules the Docker daemon
// would (duplicate network attach is an error, removing a network with
// members is an error), and lets tests script exec results, file
// contents, and per-operation failures.
//
// Failures are keyed "<op> <target>", e.g. "run attacker" or
// "connect evil_net". Scripted exec results match on a substring of
// the space-joined command.
type Fake struct {
	mu          sync.Mutex
	networks    map[string]map[string]string
	volumes     map[string]bool
	containers  map[string]*fakeContainer
	pulled      []string
	oneShots    []ContainerSpec
	execs       []ExecCall
	copies      []CopyCall
	execResults map[string]ExecResult
	files       map[string][]byte
	logs        map[string]string
	failures    map[string]error
}

var _ Runtime = (*Fake)(nil)

// NewFake returns an empty Fake runtime.
func NewFake() *Fake {
	return &Fake{
		networks:    make(map[string]map[string]string),
		volumes:     make(map[string]bool),
		containers:  make(map[string]*fakeContainer),
		execResults: make(map[string]ExecResult),
		files:       make(map[string][]byte),
		logs:        make(map[string]string),
		failures:    make(map[string]error),
	}
}

// FailWith makes the operation identified by key fail with err. The
// key is "<op> <target>": op is the lowercased method verb ("run",
// "oneshot", "connect", "disconnect", "exec", "network", "volume",
// "stop") and target is the primary name argument.
func (f *Fake) FailWith(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = err
}

// SetExecResult scripts the result returned for Exec calls on the
// container whose space-joined command contains cmdSubstring.
func (f *Fake) SetExecResult(container, cmdSubstring string, result ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execResults[container+"\x00"+cmdSubstring] = result
}

// SetFile scripts the content ReadFile returns for a path.
func (f *Fake) SetFile(container, path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[container+":"+path] = data
}

// SetLogs scripts the output ContainerLogs returns.
func (f *Fake) SetLogs(container, logs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[container] = logs
}

// NetworkExists reports whether the named network exists.
func (f *Fake) NetworkExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.networks[name]
	return ok
}

// VolumeExists reports whether the named volume exists.
func (f *Fake) VolumeExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[name]
}

// ContainerRunning reports whether the named container exists and is
// running.
func (f *Fake) ContainerRunning(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.containers[name]
	return ok && ctr.running
}

// ContainerSpecOf returns the spec a container was created with.
func (f *Fake) ContainerSpecOf(name string) (ContainerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.containers[name]
	if !ok {
		return ContainerSpec{}, false
	}
	return ctr.spec, true
}

// OneShots returns the specs passed to RunOneShot, in order.
func (f *Fake) OneShots() []ContainerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ContainerSpec(nil), f.oneShots...)
}

// ExecCalls returns every Exec invocation, in order.
func (f *Fake) ExecCalls() []ExecCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecCall(nil), f.execs...)
}

// CopyCalls returns every CopyTo invocation, in order.
func (f *Fake) CopyCalls() []CopyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CopyCall(nil), f.copies...)
}

// PulledImages returns the image refs passed to EnsureImage, in order.
func (f *Fake) PulledImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pulled...)
}

func (f *Fake) failure(op, target string) error {
	return f.failures[op+" "+target]
}

func (f *Fake) EnsureImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("image", ref); err != nil {
		return err
	}
	f.pulled = append(f.pulled, ref)
	return nil
}

func (f *Fake) EnsureNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("network", name); err != nil {
		return err
	}
	if _, ok := f.networks[name]; !ok {
		f.networks[name] = make(map[string]string)
	}
	return nil
}

func (f *Fake) NetworkContainers(ctx context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.networks[name]
	if !ok {
		return nil, fmt.Errorf("network %s: %w", name, ErrNotFound)
	}
	names := make([]string, 0, len(members))
	for member := range members {
		names = append(names, member)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) ConnectNetwork(ctx context.Context, network, container, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("connect", network); err != nil {
		return err
	}
	members, ok := f.networks[network]
	if !ok {
		return fmt.Errorf("network %s: %w", network, ErrNotFound)
	}
	if _, ok := f.containers[container]; !ok {
		return fmt.Errorf("container %s: %w", container, ErrNotFound)
	}
	if _, ok := members[container]; ok {
		return fmt.Errorf("endpoint %s already exists on network %s", container, network)
	}
	members[container] = alias
	return nil
}

func (f *Fake) DisconnectNetwork(ctx context.Context, network, container string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("disconnect", network); err != nil {
		return err
	}
	members, ok := f.networks[network]
	if !ok {
		return fmt.Errorf("network %s: %w", network, ErrNotFound)
	}
	if _, ok := members[container]; !ok {
		return fmt.Errorf("container %s is not connected to network %s: %w", container, network, ErrNotFound)
	}
	delete(members, container)
	return nil
}

func (f *Fake) RemoveNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.networks[name]
	if !ok {
		return nil
	}
	if len(members) > 0 {
		return fmt.Errorf("network %s has active endpoints", name)
	}
	delete(f.networks, name)
	return nil
}

func (f *Fake) EnsureVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("volume", name); err != nil {
		return err
	}
	f.volumes[name] = true
	return nil
}

func (f *Fake) RemoveVolume(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	return nil
}

func (f *Fake) RunContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("run", spec.Name); err != nil {
		return "", err
	}
	if _, ok := f.containers[spec.Name]; ok {
		return "", fmt.Errorf("container name %s already in use", spec.Name)
	}
	if spec.Network != "" {
		members, ok := f.networks[spec.Network]
		if !ok {
			return "", fmt.Errorf("network %s: %w", spec.Network, ErrNotFound)
		}
		members[spec.Name] = spec.Alias
	}
	f.containers[spec.Name] = &fakeContainer{spec: spec, running: true}
	return "id-" + spec.Name, nil
}

func (f *Fake) RunOneShot(ctx context.Context, spec ContainerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("oneshot", spec.Image); err != nil {
		return err
	}
	f.oneShots = append(f.oneShots, spec)
	return nil
}

func (f *Fake) StopContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("stop", name); err != nil {
		return err
	}
	if ctr, ok := f.containers[name]; ok {
		ctr.running = false
	}
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	for _, members := range f.networks {
		delete(members, name)
	}
	return nil
}

func (f *Fake) Exec(ctx context.Context, container, user string, cmd []string) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("exec", container); err != nil {
		return ExecResult{}, err
	}
	ctr, ok := f.containers[container]
	if !ok {
		return ExecResult{}, fmt.Errorf("container %s: %w", container, ErrNotFound)
	}
	if !ctr.running {
		return ExecResult{}, fmt.Errorf("container %s is not running", container)
	}
	f.execs = append(f.execs, ExecCall{Container: container, User: user, Cmd: append([]string(nil), cmd...)})
	joined := strings.Join(cmd, " ")
	for key, result := range f.execResults {
		prefix, substring, _ := strings.Cut(key, "\x00")
		if prefix == container && strings.Contains(joined, substring) {
			return result, nil
		}
	}
	return ExecResult{}, nil
}

func (f *Fake) CopyTo(ctx context.Context, container, destDir string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("copy", container); err != nil {
		return err
	}
	if _, ok := f.containers[container]; !ok {
		return fmt.Errorf("container %s: %w", container, ErrNotFound)
	}
	f.copies = append(f.copies, CopyCall{Container: container, DestDir: destDir, Bytes: len(data)})
	return nil
}

func (f *Fake) ReadFile(ctx context.Context, container, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[container+":"+path]
	if !ok {
		return nil, fmt.Errorf("%s:%s: %w", container, path, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (f *Fake) ContainerLogs(ctx context.Context, container string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[container], nil
}
