// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/wingedpig/burrow/internal/store"
)

const (
	// Every environment container serves these two ports internally; the
	// host side is assigned dynamically so environments never collide.
	AgentInternalPort  = 4096
	BridgeInternalPort = 4097

	// WorkDir is where environment containers keep the checkout.
	WorkDir = "/workspace"
)

var (
	// ErrImageNotFound means the environment image is absent locally.
	ErrImageNotFound = errors.New("image not found locally")

	// ErrContainerNotFound means the persisted container id no longer
	// resolves; the caller should clear the stale reference.
	ErrContainerNotFound = errors.New("container not found")
)

// Mount is a host directory or file bound into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// PortBinding maps a container port to a localhost-only host port.
// HostPort 0 requests a dynamically assigned port.
type PortBinding struct {
	ContainerPort int
	HostPort      int
}

// CreateSpec describes a new environment container.
type CreateSpec struct {
	Name   string
	Image  string
	Env    []string
	Mounts []Mount
	Ports  []PortBinding // user-declared static mappings
}

// Backend drives the container runtime for Containerized environments.
type Backend struct {
	cli dockerAPI

	limitsMu  sync.RWMutex
	cpus      float64
	memoryMB  int64
	stopGrace time.Duration
}

// NewBackend creates a backend with per-container resource limits.
func NewBackend(cli dockerAPI, cpus float64, memoryMB int64, stopGrace time.Duration) *Backend {
	b := &Backend{cli: cli}
	b.SetLimits(cpus, memoryMB, stopGrace)
	return b
}

// SetLimits replaces the resource limits applied to containers created from
// now on. Existing containers keep the limits they were created with.
func (b *Backend) SetLimits(cpus float64, memoryMB int64, stopGrace time.Duration) {
	if stopGrace <= 0 {
		stopGrace = 10 * time.Second
	}
	b.limitsMu.Lock()
	b.cpus = cpus
	b.memoryMB = memoryMB
	b.stopGrace = stopGrace
	b.limitsMu.Unlock()
}

// Create builds and creates the container for a new environment. The two
// internal service ports are always exposed with dynamic host ports in
// addition to any user-declared static mappings. Fails with ErrImageNotFound
// when the image is absent; nothing is pulled implicitly.
func (b *Backend) Create(ctx context.Context, spec CreateSpec) (string, error) {
	if err := b.ImageExists(ctx, spec.Image); err != nil {
		return "", err
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}

	add := func(containerPort, hostPort int) {
		port := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		exposed[port] = struct{}{}
		host := ""
		if hostPort > 0 {
			host = strconv.Itoa(hostPort)
		}
		// Loopback only: environment ports are reached through the daemon,
		// never from the network.
		bindings[port] = append(bindings[port], nat.PortBinding{HostIP: "127.0.0.1", HostPort: host})
	}

	for _, p := range spec.Ports {
		add(p.ContainerPort, p.HostPort)
	}
	add(AgentInternalPort, 0)
	add(BridgeInternalPort, 0)

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	cfg := &containertypes.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}
	b.limitsMu.RLock()
	cpus, memoryMB := b.cpus, b.memoryMB
	b.limitsMu.RUnlock()

	hostCfg := &containertypes.HostConfig{
		Mounts:       mounts,
		PortBindings: bindings,
		// The environment manages its own egress firewall inside the
		// container.
		CapAdd: strslice.StrSlice{"NET_ADMIN"},
		Resources: containertypes.Resources{
			NanoCPUs: int64(cpus * 1e9),
			Memory:   memoryMB << 20,
		},
	}

	resp, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// Start starts a created or stopped container.
func (b *Backend) Start(ctx context.Context, containerID string) error {
	if err := b.cli.ContainerStart(ctx, containerID, containertypes.StartOptions{}); err != nil {
		if isNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

// Stop stops a container, giving it the configured grace period before the
// runtime force-kills it.
func (b *Backend) Stop(ctx context.Context, containerID string) error {
	b.limitsMu.RLock()
	grace := int(b.stopGrace.Seconds())
	b.limitsMu.RUnlock()
	if err := b.cli.ContainerStop(ctx, containerID, containertypes.StopOptions{Timeout: &grace}); err != nil {
		if isNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// Remove force-removes a container.
func (b *Backend) Remove(ctx context.Context, containerID string) error {
	if err := b.cli.ContainerRemove(ctx, containerID, containertypes.RemoveOptions{Force: true}); err != nil {
		if isNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Commit snapshots a container's filesystem into an image and returns the
// image reference.
func (b *Backend) Commit(ctx context.Context, containerID, ref string) (string, error) {
	resp, err := b.cli.ContainerCommit(ctx, containerID, containertypes.CommitOptions{Reference: ref})
	if err != nil {
		return "", fmt.Errorf("commit container: %w", err)
	}
	if ref != "" {
		return ref, nil
	}
	return resp.ID, nil
}

// Recreate replaces a container with a new one built from a snapshot of its
// filesystem, preserving installed state across settings that require
// re-creation (port mappings cannot change on an existing container). The
// temporary snapshot image is deleted once the replacement is running.
func (b *Backend) Recreate(ctx context.Context, containerID string, spec CreateSpec) (string, error) {
	if err := b.Stop(ctx, containerID); err != nil && !errors.Is(err, ErrContainerNotFound) {
		return "", err
	}

	snapshotRef := "burrow-snapshot:" + uuid.NewString()
	if _, err := b.Commit(ctx, containerID, snapshotRef); err != nil {
		return "", err
	}

	if err := b.Remove(ctx, containerID); err != nil && !errors.Is(err, ErrContainerNotFound) {
		return "", err
	}

	spec.Image = snapshotRef
	newID, err := b.Create(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("recreate from snapshot: %w", err)
	}
	if err := b.Start(ctx, newID); err != nil {
		return "", err
	}

	if _, err := b.cli.ImageRemove(ctx, snapshotRef, image.RemoveOptions{}); err != nil {
		log.Printf("container: removing snapshot image %s failed: %v", snapshotRef, err)
	}
	return newID, nil
}

// ImageExists returns ErrImageNotFound when the image is absent locally.
func (b *Backend) ImageExists(ctx context.Context, ref string) error {
	_, _, err := b.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrImageNotFound, ref)
		}
		return fmt.Errorf("inspect image %s: %w", ref, err)
	}
	return nil
}

// EnvironmentStatus maps the runtime's raw container state onto environment
// status. This is the source of truth reconciliation polls against.
func (b *Backend) EnvironmentStatus(ctx context.Context, containerID string) (store.EnvironmentStatus, error) {
	info, err := b.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if isNotFound(err) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("inspect container: %w", err)
	}
	if info.State == nil {
		return store.EnvStatusError, nil
	}
	return mapContainerState(info.State.Status), nil
}

func mapContainerState(state string) store.EnvironmentStatus {
	switch state {
	case "running":
		return store.EnvStatusRunning
	case "created", "restarting":
		return store.EnvStatusCreating
	case "exited", "dead", "paused":
		return store.EnvStatusStopped
	default:
		return store.EnvStatusError
	}
}

// MappedPorts resolves the dynamically assigned host ports for the two
// internal service ports of a running container.
func (b *Backend) MappedPorts(ctx context.Context, containerID string) (store.PortPair, error) {
	info, err := b.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if isNotFound(err) {
			return store.PortPair{}, ErrContainerNotFound
		}
		return store.PortPair{}, fmt.Errorf("inspect container: %w", err)
	}
	if info.NetworkSettings == nil {
		return store.PortPair{}, fmt.Errorf("container %s has no network settings", containerID)
	}

	pair := store.PortPair{}
	pair.AgentPort, err = hostPortFor(info.NetworkSettings.Ports, AgentInternalPort)
	if err != nil {
		return store.PortPair{}, err
	}
	pair.BridgePort, err = hostPortFor(info.NetworkSettings.Ports, BridgeInternalPort)
	if err != nil {
		return store.PortPair{}, err
	}
	return pair, nil
}

func hostPortFor(ports nat.PortMap, containerPort int) (int, error) {
	key := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
	for _, binding := range ports[key] {
		if binding.HostPort == "" {
			continue
		}
		p, err := strconv.Atoi(binding.HostPort)
		if err == nil {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no host binding for container port %d", containerPort)
}
