// Package runtime provides the Engine interface for container job backends.
package runtime

import (
	"context"
	"io"
)

// Engine is the subset of a container engine the executor drives.
// Every method may block on the engine; none of them hold agent state.
type Engine interface {
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error

	// PullImage fetches the image and returns once the pull has completed.
	PullImage(ctx context.Context, ref string) error

	// CreateContainer creates (but does not start) a container and returns its id.
	CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// Exec starts an interactive command inside a running container.
	Exec(ctx context.Context, id string, opts ExecOptions) (ExecSession, error)

	// Logs follows the container's combined stdout/stderr until it exits.
	Logs(ctx context.Context, id string) (io.ReadCloser, error)

	// RemoveContainer force-removes the container.
	RemoveContainer(ctx context.Context, id string) error
}

// ContainerConfig contains the parameters for creating a container.
type ContainerConfig struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	Tty         bool
	Privileged  bool
	NetworkMode string
	Binds       []string // "host:container"
	Ports       []string // "host:container[/proto]"
}

// ExecOptions contains the parameters for an interactive exec session.
type ExecOptions struct {
	Cmd []string
	Tty bool
}

// ExecSession is an attached exec: reads return process output, writes go to its stdin.
type ExecSession interface {
	io.Reader
	io.Writer

	// Resize sets the pseudo-terminal geometry.
	Resize(ctx context.Context, height, width uint) error

	// Close detaches from the session.
	Close() error
}
