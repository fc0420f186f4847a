// Package docker implements the manager.Scheduler interface using the Docker
// API. Each staged job file describes one container; the returned job id is
// the container id.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"jobforge/internal/apperrors"
	"jobforge/internal/manager"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// JobSpec is the JSON document a staged job file must contain.
type JobSpec struct {
	Image   string            `json:"image"`
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Scheduler implements manager.Scheduler using Docker.
type Scheduler struct {
	client      *client.Client
	stopTimeout int
}

// Config holds configuration for the Docker scheduler.
type Config struct {
	StopTimeoutSeconds int // Grace period before SIGKILL on cancel (default 10)
}

// New creates a new Docker scheduler from the environment client settings.
func New(ctx context.Context, cfg Config) (*Scheduler, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	stopTimeout := cfg.StopTimeoutSeconds
	if stopTimeout <= 0 {
		stopTimeout = 10
	}

	return &Scheduler{
		client:      dockerClient,
		stopTimeout: stopTimeout,
	}, nil
}

// ChunkSizes reports that the Docker API takes one container per call, so the
// engine gains nothing from chunking.
func (s *Scheduler) ChunkSizes() manager.ChunkSizes {
	return manager.ChunkSizes{}
}

// Submit creates and starts one container per job file and returns the
// container ids in job file order.
func (s *Scheduler) Submit(ctx context.Context, jobFiles []string) ([]string, error) {
	ids := make([]string, 0, len(jobFiles))
	for _, jobFile := range jobFiles {
		spec, err := readJobSpec(jobFile)
		if err != nil {
			return nil, err
		}

		// Detached context so a caller timeout doesn't abort a pull midway
		pullCtx := context.WithoutCancel(ctx)
		if err := s.pullImageIfNeeded(pullCtx, spec.Image); err != nil {
			return nil, apperrors.Internal("docker.pullImage", err)
		}

		id, err := s.createContainer(ctx, jobFile, spec)
		if err != nil {
			return nil, apperrors.Internal("docker.createContainer", err)
		}

		if err := s.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return nil, apperrors.Internal("docker.startContainer", err)
		}

		ids = append(ids, id)
	}
	return ids, nil
}

// Cancel stops the containers, leaving them in place for inspection.
func (s *Scheduler) Cancel(ctx context.Context, jobIDs []string) error {
	for _, id := range jobIDs {
		timeout := s.stopTimeout
		if err := s.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			return apperrors.Internal("docker.stopContainer", err)
		}
	}
	return nil
}

// Cleanup force-removes the containers. Missing containers are not an error.
func (s *Scheduler) Cleanup(ctx context.Context, jobIDs []string) error {
	for _, id := range jobIDs {
		if err := s.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			return apperrors.Internal("docker.removeContainer", err)
		}
	}
	return nil
}

// Query inspects each container and maps its state onto the common status
// model. A missing container yields a failed record rather than an error.
func (s *Scheduler) Query(ctx context.Context, jobIDs []string) ([]manager.StatusRecord, error) {
	records := make([]manager.StatusRecord, 0, len(jobIDs))
	for _, id := range jobIDs {
		inspect, err := s.client.ContainerInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				records = append(records, manager.StatusRecord{
					JobID:  id,
					Status: manager.StatusFailed,
					Error:  "container not found",
				})
				continue
			}
			return nil, apperrors.Internal("docker.inspectContainer", err)
		}

		records = append(records, mapState(id, inspect.State))
	}
	return records, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (s *Scheduler) Ready(ctx context.Context) error {
	_, err := s.client.Ping(ctx)
	return err
}

// Close releases the underlying client connection.
func (s *Scheduler) Close() error {
	return s.client.Close()
}

func (s *Scheduler) createContainer(ctx context.Context, jobFile string, spec *JobSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{
		"jobforge.file": jobFile,
		"managed-by":    "jobforge",
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	containerConfig := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Env:    env,
		Labels: labels,
	}

	containerName := fmt.Sprintf("jobforge-%s", uuid.NewString()[:8])
	resp, err := s.client.ContainerCreate(ctx, containerConfig, nil, nil, nil, containerName)
	if err != nil {
		return "", err
	}

	return resp.ID, nil
}

func (s *Scheduler) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := s.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := s.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func readJobSpec(path string) (*JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NotFound("job file", path)
	}

	var spec JobSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, apperrors.Decode("docker.readJobSpec", fmt.Sprintf("job file %s is not valid JSON: %v", path, err))
	}
	if spec.Image == "" {
		return nil, apperrors.Validation("image", "job file must name a container image")
	}
	return &spec, nil
}
