package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DockerEngine implements Engine using the Docker SDK. Daemon errors are
// returned as the SDK reports them so they reach job outcomes verbatim.
type DockerEngine struct {
	client *client.Client
}

// dockerExec is an attached docker exec session.
type dockerExec struct {
	client *client.Client
	execID string
	conn   types.HijackedResponse
}

// NewDockerEngine creates a Docker engine client.
func NewDockerEngine() (*DockerEngine, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	return newDockerEngine(client.FromEnv, client.WithAPIVersionNegotiation())
}

func newDockerEngine(opts ...client.Opt) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerEngine{client: cli}, nil
}

// Close releases the client's idle connections.
func (d *DockerEngine) Close() error {
	return d.client.Close()
}

func (d *DockerEngine) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// PullImage pulls ref and waits for the progress stream to finish.
// Per-layer progress is discarded; an error message in the stream fails the pull.
func (d *DockerEngine) PullImage(ctx context.Context, ref string) error {
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	return jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil)
}

func (d *DockerEngine) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	exposed, bindings, err := nat.ParsePortSpecs(cfg.Ports)
	if err != nil {
		return "", fmt.Errorf("invalid port mapping: %w", err)
	}

	containerConfig := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		Tty:          cfg.Tty,
		ExposedPorts: exposed,
	}
	hostConfig := &container.HostConfig{
		Privileged:   cfg.Privileged,
		NetworkMode:  container.NetworkMode(cfg.NetworkMode),
		Binds:        cfg.Binds,
		PortBindings: bindings,
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, cfg.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *DockerEngine) StartContainer(ctx context.Context, id string) error {
	return d.client.ContainerStart(ctx, id, container.StartOptions{})
}

// Exec creates an exec with stdin/stdout/stderr attached and starts it.
func (d *DockerEngine) Exec(ctx context.Context, id string, opts ExecOptions) (ExecSession, error) {
	created, err := d.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          opts.Tty,
		Cmd:          opts.Cmd,
	})
	if err != nil {
		return nil, err
	}

	hijacked, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: opts.Tty})
	if err != nil {
		return nil, err
	}

	return &dockerExec{client: d.client, execID: created.ID, conn: hijacked}, nil
}

// Logs follows the container's output. The docker stream multiplexes stdout
// and stderr for non-tty containers; both are copied into one reader.
func (d *DockerEngine) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		rc.Close()
		pw.CloseWithError(err)
	}()

	return &demuxedLogs{PipeReader: pr, src: rc}, nil
}

func (d *DockerEngine) RemoveContainer(ctx context.Context, id string) error {
	return d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e *dockerExec) Read(p []byte) (int, error) {
	return e.conn.Reader.Read(p)
}

func (e *dockerExec) Write(p []byte) (int, error) {
	return e.conn.Conn.Write(p)
}

func (e *dockerExec) Resize(ctx context.Context, height, width uint) error {
	return e.client.ContainerExecResize(ctx, e.execID, container.ResizeOptions{Height: height, Width: width})
}

func (e *dockerExec) Close() error {
	e.conn.Close()
	return nil
}

type demuxedLogs struct {
	*io.PipeReader
	src io.ReadCloser
}

func (l *demuxedLogs) Close() error {
	l.src.Close()
	return l.PipeReader.Close()
}
