// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// Tests inject a recorder here instead of running real daemon binaries.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// CLIClientOption configures a baseCLIClient.
	CLIClientOption func(*baseCLIClient)

	// baseCLIClient implements the daemon operations shared by the Docker and
	// Podman clients. The flavor-specific pieces (availability probe, version
	// format, negative-query phrases) live on the concrete types.
	baseCLIClient struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
		// extraEnv is appended to every daemon invocation. Docker uses it to
		// force BuildKit so builds behave the same on every host.
		extraEnv []string
		// notFoundPhrases classify an inspect failure as a clean negative
		// rather than a transport failure.
		notFoundPhrases []string
	}
)

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) CLIClientOption {
	return func(c *baseCLIClient) {
		c.execCommand = fn
	}
}

// WithBinaryPath overrides the resolved daemon binary path.
func WithBinaryPath(path string) CLIClientOption {
	return func(c *baseCLIClient) {
		c.binaryPath = path
	}
}

func newBaseCLIClient(name, binaryPath string, extraEnv, notFoundPhrases []string, opts ...CLIClientOption) *baseCLIClient {
	c := &baseCLIClient{
		name:            name,
		binaryPath:      binaryPath,
		execCommand:     exec.CommandContext,
		extraEnv:        extraEnv,
		notFoundPhrases: notFoundPhrases,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the daemon flavor name.
func (c *baseCLIClient) Name() string { return c.name }

// BinaryPath returns the path to the daemon CLI binary.
func (c *baseCLIClient) BinaryPath() string { return c.binaryPath }

// createCommand creates an exec.Cmd for the given arguments with the client's
// environment overrides applied.
func (c *baseCLIClient) createCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := c.execCommand(ctx, c.binaryPath, args...)
	if len(c.extraEnv) > 0 {
		cmd.Env = append(os.Environ(), c.extraEnv...)
	}
	return cmd
}

// QueryTag implements the cache lookup. It runs an image inspect and
// classifies a failure by stderr: a "no such image" answer is a clean miss,
// anything else means the daemon could not be queried.
func (c *baseCLIClient) QueryTag(ctx context.Context, ref string) (ImageID, bool, error) {
	cmd := c.createCommand(ctx, "image", "inspect", ref, "--format", "{{.Id}}")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if c.isNotFound(stderr.String()) {
			return "", false, nil
		}
		return "", false, &UnreachableError{Daemon: c.name, Op: "query tag", Stderr: stderr.String(), Err: err}
	}

	id := ImageID(strings.TrimSpace(stdout.String()))
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// isNotFound reports whether stderr describes a clean negative lookup.
func (c *baseCLIClient) isNotFound(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, phrase := range c.notFoundPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Build runs "<daemon> build" against the request's context directory. The
// image ID comes back through the daemon's iidfile protocol so it is exact
// rather than parsed from the progress stream.
func (c *baseCLIClient) Build(ctx context.Context, req BuildRequest) (ImageID, error) {
	iidDir, err := os.MkdirTemp("", "cnabforge-iid-")
	if err != nil {
		return "", fmt.Errorf("create iidfile dir: %w", err)
	}
	defer os.RemoveAll(iidDir) //nolint:errcheck // best-effort temp cleanup
	iidfile := filepath.Join(iidDir, "iid")

	args := c.buildArgs(req, iidfile)
	cmd := c.createCommand(ctx, args...)

	// Capture the full daemon log while forwarding it to the caller's writer.
	var log bytes.Buffer
	sink := io.Writer(&log)
	if req.Output != nil {
		sink = io.MultiWriter(&log, req.Output)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", &UnreachableError{Daemon: c.name, Op: "build", Err: ctx.Err()}
		}
		return "", &BuildError{Log: log.String(), Err: err}
	}

	raw, err := os.ReadFile(iidfile)
	if err != nil {
		return "", fmt.Errorf("read iidfile after build: %w", err)
	}
	id := ImageID(strings.TrimSpace(string(raw)))
	if id == "" {
		return "", fmt.Errorf("daemon wrote an empty iidfile")
	}
	return id, nil
}

// buildArgs constructs the argument list for a build invocation.
//
// Generated command: <binary> build --iidfile <f> [options] <context>
func (c *baseCLIClient) buildArgs(req BuildRequest, iidfile string) []string {
	args := []string{"build", "--iidfile", iidfile}

	if req.Dockerfile != "" {
		args = append(args, "-f", filepath.Join(req.ContextDir, req.Dockerfile))
	}
	if req.Platform != "" {
		args = append(args, "--platform", req.Platform)
	}
	for _, tag := range req.Tags {
		args = append(args, "-t", tag)
	}
	for _, arg := range req.Args {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", arg.Name, arg.Value))
	}

	args = append(args, req.ContextDir)
	return args
}

// Tag assigns ref to an existing image. The daemon's tag creation is atomic
// and last-writer-wins, which is safe here because identical cache tags always
// point at equivalent content.
func (c *baseCLIClient) Tag(ctx context.Context, id ImageID, ref string) error {
	cmd := c.createCommand(ctx, "tag", id.String(), ref)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &UnreachableError{Daemon: c.name, Op: "tag", Stderr: stderr.String(), Err: err}
	}
	return nil
}

// ResolveDigest resolves a local image reference to its pinned registry form.
func (c *baseCLIClient) ResolveDigest(ctx context.Context, ref string) (string, error) {
	cmd := c.createCommand(ctx, "image", "inspect", ref, "--format", "{{index .RepoDigests 0}}")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if c.isNotFound(stderr.String()) {
			return "", fmt.Errorf("%w: %s is not present locally (pull it first)", ErrNoRepoDigest, ref)
		}
		if strings.Contains(stderr.String(), "out of range") {
			return "", fmt.Errorf("%w: %s", ErrNoRepoDigest, ref)
		}
		return "", &UnreachableError{Daemon: c.name, Op: "resolve digest", Stderr: stderr.String(), Err: err}
	}

	pinned := strings.TrimSpace(stdout.String())
	if pinned == "" || !strings.Contains(pinned, "@") {
		return "", fmt.Errorf("%w: %s", ErrNoRepoDigest, ref)
	}
	return pinned, nil
}

// SaveImages exports refs into a tarball at outPath.
func (c *baseCLIClient) SaveImages(ctx context.Context, refs []string, outPath string) error {
	if len(refs) == 0 {
		return fmt.Errorf("no image references to save")
	}

	args := append([]string{"save", "--output", outPath}, refs...)
	cmd := c.createCommand(ctx, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &UnreachableError{Daemon: c.name, Op: "save images", Stderr: stderr.String(), Err: err}
	}
	return nil
}
