// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package containers

import (
	"context"
	"errors"
	"io"

	"github.com/docker/docker/errdefs"
)

// ErrNotFound reports that a container, network, or volume does not
// exist. The Docker implementation translates SDK not-found errors to
// this sentinel's semantics via IsNotFound.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err means the referenced object does not
// exist, regardless of which Runtime implementation produced it.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errdefs.IsNotFound(err)
}

// PortBinding publishes one container port on the host.
type PortBinding struct {
	// ContainerPort is the container-side port spec, e.g. "8080/tcp".
	ContainerPort string

	// HostPort is the host-side TCP port.
	HostPort int
}

// Mount attaches a volume or host directory to a container.
type Mount struct {
	// Source is a volume name, or a host path when Bind is set.
	Source string

	// Target is the in-container mount point.
	Target string

	// Bind mounts a host path instead of a named volume.
	Bind bool

	ReadOnly bool
}

// ContainerSpec describes a container to create and start.
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string

	// Network is the name of the private network to join at start;
	// Alias is the container's DNS alias on it.
	Network string
	Alias   string

	Env    map[string]string
	Ports  []PortBinding
	Mounts []Mount

	// TTY allocates a pseudo-terminal and keeps stdin open, matching
	// how the attacker workstation image expects to run.
	TTY bool
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int

	// Output is combined stdout and stderr.
	Output string
}

// Runtime is the container runtime capability surface. Implementations
// must make the Remove* and Stop operations tolerate already-gone
// targets (returning nil), since teardown paths retry and overlap.
type Runtime interface {
	// EnsureImage makes the image available locally, pulling if absent.
	EnsureImage(ctx context.Context, ref string) error

	// EnsureNetwork creates the named bridge network if it does not
	// already exist.
	EnsureNetwork(ctx context.Context, name string) error

	// NetworkContainers returns the names of containers currently
	// attached to the network. Returns an error satisfying IsNotFound
	// when the network does not exist.
	NetworkContainers(ctx context.Context, name string) ([]string, error)

	// ConnectNetwork attaches a container to a network under an
	// optional alias.
	ConnectNetwork(ctx context.Context, network, container, alias string) error

	// DisconnectNetwork detaches a container from a network.
	DisconnectNetwork(ctx context.Context, network, container string) error

	// RemoveNetwork deletes the network. Already-gone is success.
	RemoveNetwork(ctx context.Context, name string) error

	// EnsureVolume creates the named volume if absent.
	EnsureVolume(ctx context.Context, name string) error

	// RemoveVolume deletes the volume. Already-gone is success.
	RemoveVolume(ctx context.Context, name string, force bool) error

	// RunContainer creates and starts a detached container, returning
	// its id.
	RunContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// RunOneShot runs a container to completion and removes it. A
	// non-zero exit status is an error carrying the container output.
	RunOneShot(ctx context.Context, spec ContainerSpec) error

	// StopContainer stops a running container. Already-gone is success.
	StopContainer(ctx context.Context, name string) error

	// RemoveContainer deletes a container. Already-gone is success.
	RemoveContainer(ctx context.Context, name string, force bool) error

	// Exec runs a command inside a running container as the given user
	// ("" for the image default) and returns its exit code and
	// combined output. A non-zero exit code is not an error.
	Exec(ctx context.Context, container, user string, cmd []string) (ExecResult, error)

	// CopyTo extracts a tar stream into destDir inside the container.
	CopyTo(ctx context.Context, container, destDir string, content io.Reader) error

	// ReadFile returns the contents of a single file inside the
	// container.
	ReadFile(ctx context.Context, container, path string) ([]byte, error)

	// ContainerLogs returns the container's accumulated log output
	// with timestamps, for teardown capture.
	ContainerLogs(ctx context.Context, container string) (string, error)
}
