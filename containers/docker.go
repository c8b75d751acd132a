// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package containers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/agentsphere/redharness/lib/clock"
)

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	cli    *client.Client
	clk    clock.Clock
	logger *slog.Logger
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime connects to the Docker daemon using the standard
// environment (DOCKER_HOST etc.) with API version negotiation.
func NewDockerRuntime(logger *slog.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connecting to docker daemon: %w", err)
	}
	return &DockerRuntime{
		cli:    cli,
		clk:    clock.Real(),
		logger: logger,
	}, nil
}

// Close releases the client connection.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Ping checks that the daemon is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("pinging docker daemon: %w", err)
	}
	return nil
}

func (r *DockerRuntime) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := r.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	} else if !IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", ref, err)
	}
	r.logger.Info("pulling image", "ref", ref)
	rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return nil
}

func (r *DockerRuntime) EnsureNetwork(ctx context.Context, name string) error {
	_, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("inspecting network %s: %w", name, err)
	}
	if _, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("creating network %s: %w", name, err)
	}
	return nil
}

func (r *DockerRuntime) NetworkContainers(ctx context.Context, name string) ([]string, error) {
	resource, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("network %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("inspecting network %s: %w", name, err)
	}
	names := make([]string, 0, len(resource.Containers))
	for _, endpoint := range resource.Containers {
		names = append(names, endpoint.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *DockerRuntime) ConnectNetwork(ctx context.Context, networkName, containerName, alias string) error {
	settings := &network.EndpointSettings{}
	if alias != "" {
		settings.Aliases = []string{alias}
	}
	if err := r.cli.NetworkConnect(ctx, networkName, containerName, settings); err != nil {
		return fmt.Errorf("connecting %s to network %s: %w", containerName, networkName, err)
	}
	return nil
}

func (r *DockerRuntime) DisconnectNetwork(ctx context.Context, networkName, containerName string) error {
	if err := r.cli.NetworkDisconnect(ctx, networkName, containerName, true); err != nil {
		return fmt.Errorf("disconnecting %s from network %s: %w", containerName, networkName, err)
	}
	return nil
}

func (r *DockerRuntime) RemoveNetwork(ctx context.Context, name string) error {
	if err := r.cli.NetworkRemove(ctx, name); err != nil && !IsNotFound(err) {
		return fmt.Errorf("removing network %s: %w", name, err)
	}
	return nil
}

func (r *DockerRuntime) EnsureVolume(ctx context.Context, name string) error {
	if _, err := r.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name}); err != nil {
		return fmt.Errorf("creating volume %s: %w", name, err)
	}
	return nil
}

func (r *DockerRuntime) RemoveVolume(ctx context.Context, name string, force bool) error {
	if err := r.cli.VolumeRemove(ctx, name, force); err != nil && !IsNotFound(err) {
		return fmt.Errorf("removing volume %s: %w", name, err)
	}
	return nil
}

func (r *DockerRuntime) RunContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	id, err := r.createContainer(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container %s: %w", spec.Name, err)
	}
	return id, nil
}

func (r *DockerRuntime) RunOneShot(ctx context.Context, spec ContainerSpec) error {
	id, err := r.createContainer(ctx, spec)
	if err != nil {
		return err
	}
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = r.RemoveContainer(removeCtx, id, true)
	}()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", spec.Name, err)
	}
	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return fmt.Errorf("waiting for container %s: %w", spec.Name, err)
	case status := <-waitCh:
		if status.StatusCode != 0 {
			logs, _ := r.ContainerLogs(ctx, id)
			return fmt.Errorf("container %s exited with status %d: %s", spec.Name, status.StatusCode, logs)
		}
	}
	return nil
}

func (r *DockerRuntime) createContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for key, value := range spec.Env {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, pb := range spec.Ports {
		port, err := nat.NewPort(nat.SplitProtoPort(pb.ContainerPort))
		if err != nil {
			return "", fmt.Errorf("invalid port %q: %w", pb.ContainerPort, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", pb.HostPort)}}
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		kind := mount.TypeVolume
		if m.Bind {
			kind = mount.TypeBind
		}
		mounts = append(mounts, mount.Mount{
			Type:     kind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	cfg := &container.Config{
		Image:     spec.Image,
		Cmd:       spec.Command,
		Env:       env,
		Tty:       spec.TTY,
		OpenStdin: spec.TTY,
	}
	if len(exposed) > 0 {
		cfg.ExposedPorts = exposed
	}
	hostCfg := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: bindings,
	}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		endpoint := &network.EndpointSettings{}
		if spec.Alias != "" {
			endpoint.Aliases = []string{spec.Alias}
		}
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: endpoint},
		}
	}
	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", spec.Name, err)
	}
	return created.ID, nil
}

func (r *DockerRuntime) StopContainer(ctx context.Context, name string) error {
	timeout := 10
	err := r.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("stopping container %s: %w", name, err)
	}
	return nil
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, name string, force bool) error {
	err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: force})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("removing container %s: %w", name, err)
	}
	return nil
}

func (r *DockerRuntime) Exec(ctx context.Context, containerName, user string, cmd []string) (ExecResult, error) {
	created, err := r.cli.ContainerExecCreate(ctx, containerName, container.ExecOptions{
		User:         user,
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("creating exec in %s: %w", containerName, err)
	}
	attached, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attaching exec in %s: %w", containerName, err)
	}
	defer attached.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attached.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("reading exec output from %s: %w", containerName, err)
	}

	// The stream closing does not guarantee the process has been
	// reaped; poll until the exit code is available.
	for {
		inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return ExecResult{}, fmt.Errorf("inspecting exec in %s: %w", containerName, err)
		}
		if !inspect.Running {
			return ExecResult{ExitCode: inspect.ExitCode, Output: output.String()}, nil
		}
		select {
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		case <-r.clk.After(50 * time.Millisecond):
		}
	}
}

func (r *DockerRuntime) CopyTo(ctx context.Context, containerName, destDir string, content io.Reader) error {
	if err := r.cli.CopyToContainer(ctx, containerName, destDir, content, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying to %s:%s: %w", containerName, destDir, err)
	}
	return nil
}

func (r *DockerRuntime) ReadFile(ctx context.Context, containerName, path string) ([]byte, error) {
	rc, _, err := r.cli.CopyFromContainer(ctx, containerName, path)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%s:%s: %w", containerName, path, ErrNotFound)
		}
		return nil, fmt.Errorf("copying from %s:%s: %w", containerName, path, err)
	}
	defer rc.Close()
	data, err := extractSingleFile(rc)
	if err != nil {
		return nil, fmt.Errorf("extracting %s:%s: %w", containerName, path, err)
	}
	return data, nil
}

func (r *DockerRuntime) ContainerLogs(ctx context.Context, containerName string) (string, error) {
	rc, err := r.cli.ContainerLogs(ctx, containerName, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	})
	if err != nil {
		return "", fmt.Errorf("reading logs of %s: %w", containerName, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		// TTY containers stream logs unmultiplexed.
		raw, rawErr := io.ReadAll(rc)
		if rawErr != nil {
			return "", fmt.Errorf("reading logs of %s: %w", containerName, err)
		}
		buf.Write(raw)
	}
	return buf.String(), nil
}
