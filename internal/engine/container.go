package engine

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/buildkite/roko"
	"github.com/google/uuid"

	"github.com/firecow/gitlab-local-pipeline/internal/pipeline"
	"github.com/firecow/gitlab-local-pipeline/internal/process"
	"github.com/firecow/gitlab-local-pipeline/internal/scheduler"
)

// containerHandle tracks every container/volume id an Engine run owns
// until cleanup completes.
type containerHandle struct {
	containerID          string
	artifactsContainerID string
	volumeID             string
}

// createContainer ensures the image is present, creates a named
// volume, creates (but does not yet start) a container bound to it at
// /builds, and copies the job's workspace into /builds.
func (e *Engine) createContainer(ctx context.Context, job *pipeline.Job, safe string, run *scheduler.JobRun, ws *workspace) (*containerHandle, error) {
	if err := e.ensureImage(ctx, job.Image.Name); err != nil {
		return nil, err
	}

	// A fresh run id keeps container/volume names unique even when the
	// same job is run twice in a row.
	jobID := uuid.New().String()[:8]
	volumeID := fmt.Sprintf("gcl-%s-%s", safe, jobID)
	if _, err := process.Spawn(ctx, process.Config{Cmd: "docker volume create " + shQuote(volumeID)}); err != nil {
		return nil, fmt.Errorf("engine: creating volume for %s: %w", job.Name, err)
	}
	run.VolumeID = volumeID

	args := []string{"create", "-i", "-u", "0:0", "--name", shQuote("gcl-" + jobID), "-v", shQuote(volumeID) + ":/builds"}
	if e.opts.Privileged {
		args = append(args, "--privileged")
	}
	for _, kv := range job.Variables.ToEnv() {
		args = append(args, "-e", shQuote(kv))
	}
	for _, host := range e.opts.ExtraHosts {
		args = append(args, "--add-host", shQuote(host))
	}
	if job.Image.Entrypoint != nil {
		args = append(args, "--entrypoint", shQuote(job.Image.Entrypoint[0]))
	}

	if job.InjectSSHAgent {
		sockPath, sockEnv := sshAgentMount()
		args = append(args, "-v", sockPath+":"+sockPath, "-e", "SSH_AUTH_SOCK="+shQuote(sockEnv))
	}

	if job.Cache != nil && job.Cache.Key != "" {
		for _, path := range job.Cache.Paths {
			hostDir := fmt.Sprintf("%s/%s/%s", e.opts.CacheRoot, job.Cache.Key, path)
			args = append(args, "-v", shQuote(hostDir)+":"+shQuote("/builds/"+path))
		}
	}

	args = append(args, shQuote(job.Image.Name))
	args = append(args, shellProbeCommand()...)

	cmd := "docker " + strings.Join(args, " ")
	res, err := process.Spawn(ctx, process.Config{Cmd: cmd})
	if err != nil {
		e.cleanup(context.Background(), run, &containerHandle{volumeID: volumeID})
		return nil, fmt.Errorf("engine: creating container for %s: %w", job.Name, err)
	}
	containerID := strings.TrimSpace(res.Stdout)
	run.ContainerID = containerID

	// Seed /builds with the workspace, which holds the staged
	// predecessor artifacts.
	err = os.MkdirAll(ws.buildDir, 0o755)
	if err == nil {
		_, err = process.Spawn(ctx, process.Config{Cmd: fmt.Sprintf("docker cp %s %s:/builds/", shQuote(ws.buildDir+"/."), shQuote(containerID))})
	}
	if err != nil {
		e.cleanup(context.Background(), run, &containerHandle{containerID: containerID, volumeID: volumeID})
		return nil, fmt.Errorf("engine: copying workspace into container for %s: %w", job.Name, err)
	}

	return &containerHandle{containerID: containerID, volumeID: volumeID}, nil
}

// ensureImage checks the local image cache before pulling, retrying
// the pull a few times since registries occasionally blip.
func (e *Engine) ensureImage(ctx context.Context, image string) error {
	res, err := process.Spawn(ctx, process.Config{
		Cmd: "docker image ls --format '{{.Repository}}:{{.Tag}}'",
	})
	if err == nil && strings.Contains(res.Stdout, image) {
		return nil
	}

	return roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(2*time.Second)),
	).DoWithContext(ctx, func(r *roko.Retrier) error {
		if _, err := process.Spawn(ctx, process.Config{Cmd: "docker pull " + shQuote(image)}); err != nil {
			return fmt.Errorf("engine: pulling image %s: %w", image, err)
		}
		return nil
	})
}

// sshAgentMount returns the host path to bind-mount for SSH agent
// injection and the path to export as SSH_AUTH_SOCK inside the
// container.
func sshAgentMount() (hostPath, containerPath string) {
	if runtime.GOOS == "darwin" {
		const darwinSock = "/run/host-services/ssh-auth.sock"
		return darwinSock, darwinSock
	}
	sock := envOrEmpty("SSH_AUTH_SOCK")
	return sock, sock
}

func envOrEmpty(key string) string {
	return os.Getenv(key)
}

// shellProbeCommand execs the first available of bash, sh, busybox sh.
func shellProbeCommand() []string {
	return []string{
		"sh", "-c",
		shQuote("exec bash 2>/dev/null || exec sh 2>/dev/null || exec busybox sh 2>/dev/null || { echo 'shell not found' >&2; exit 1; }"),
	}
}
