package containerexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// LocalExecutor is the atomic-rename fallback named in spec.md §9 for
// deployments without an easy FD-passing primitive: it shells out to
// `docker build --target=<stage>` and publishes outputs by renaming a
// scratch export directory into place only once the build succeeds,
// preserving the "no partial publish" property without a socket hand-off.
type LocalExecutor struct {
	RecipePath string
	ContextDir string
	OutputRoot string
	ScratchDir string
}

var _ Engine = (*LocalExecutor)(nil)

// Run invokes `docker build --target=stage.Target`, staging its export into
// a scratch subdirectory and renaming it into OutputRoot only on success.
func (e *LocalExecutor) Run(ctx context.Context, stage RunStage) error {
	scratch := filepath.Join(e.ScratchDir, string(stage.Target)+"-"+stage.Args.Subject)
	if err := os.RemoveAll(scratch); err != nil {
		return errors.Wrap(err, "clearing scratch export directory")
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return errors.Wrap(err, "creating scratch export directory")
	}

	args := []string{
		"build",
		"--file=" + e.RecipePath,
		"--target=" + string(stage.Target),
		fmt.Sprintf("--output=type=local,dest=%s", scratch),
	}
	for k, v := range stage.Args.toMap() {
		args = append(args, fmt.Sprintf("--build-arg=%s=%s", k, v))
	}
	for _, m := range stage.Mounts {
		args = append(args, fmt.Sprintf("--build-context=%s=%s", filepath.Base(m.Target), m.Source))
	}
	for _, s := range stage.Secrets {
		args = append(args, fmt.Sprintf("--secret=id=%s", s.ID))
	}
	args = append(args, e.ContextDir)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "docker build --target=%s", stage.Target)
	}

	dest := filepath.Join(e.OutputRoot, string(stage.Target)+"-"+stage.Args.Subject)
	if err := os.RemoveAll(dest); err != nil {
		return errors.Wrap(err, "clearing previous output before atomic publish")
	}
	if err := os.Rename(scratch, dest); err != nil {
		return errors.Wrap(err, "publishing stage output")
	}

	return nil
}

// CopyOut extracts a single file from a built image by re-invoking docker
// to create and export a throwaway container.
func (e *LocalExecutor) CopyOut(ctx context.Context, imageRef, path string) ([]byte, error) {
	createOut, err := exec.CommandContext(ctx, "docker", "create", imageRef).CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "docker create %s: %s", imageRef, createOut)
	}
	containerID := strings.TrimSpace(string(createOut))
	defer exec.Command("docker", "rm", "-f", containerID).Run() //nolint:errcheck

	tmp, err := os.MkdirTemp("", "twoliter-copyout-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	if out, err := exec.CommandContext(ctx, "docker", "cp", containerID+":"+path, tmp+"/out").CombinedOutput(); err != nil {
		return nil, errors.Wrapf(err, "docker cp: %s", out)
	}

	return os.ReadFile(tmp + "/out")
}
