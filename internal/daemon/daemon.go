// SPDX-License-Identifier: MPL-2.0

// Package daemon abstracts the build daemon this tool drives (Docker or
// Podman). The cache layer depends only on the narrow Client surface: query a
// tag, stream a build, create a tag. Everything the daemon stores is treated
// as append-only: tags are created or reused, never retargeted or deleted.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cnabforge/cnabforge/internal/fingerprint"
)

const (
	// KindDocker selects the Docker CLI client.
	KindDocker Kind = "docker"
	// KindPodman selects the Podman CLI client.
	KindPodman Kind = "podman"
	// KindAuto picks whichever daemon is available, Docker first.
	KindAuto Kind = "auto"
)

var (
	// ErrDaemonUnreachable is the sentinel error wrapped by UnreachableError.
	ErrDaemonUnreachable = errors.New("build daemon unreachable")

	// ErrBuildFailed is the sentinel error wrapped by BuildError.
	ErrBuildFailed = errors.New("image build failed")

	// ErrNoDaemonAvailable is returned when no supported build daemon is
	// installed and responding.
	ErrNoDaemonAvailable = errors.New("no build daemon available")

	// ErrNoRepoDigest is returned when a local image has no registry digest to
	// pin against.
	ErrNoRepoDigest = errors.New("image has no repository digest")
)

type (
	// Kind identifies a build daemon flavor.
	Kind string

	// ImageID is a daemon-side image identity (e.g. "sha256:abc..."). It is
	// assigned by the daemon, not by this tool.
	ImageID string

	// BuildRequest describes one image build. Args keep declaration order so
	// the daemon sees the same ordering that was fingerprinted.
	BuildRequest struct {
		// ContextDir is the build context directory streamed to the daemon.
		ContextDir string
		// Dockerfile is the instruction file path relative to ContextDir.
		// Empty means the daemon default.
		Dockerfile string
		// Tags are applied to the resulting image in one build invocation.
		Tags []string
		// Args are build-time variables in declaration order.
		Args []fingerprint.BuildArg
		// Platform is the target platform, empty for the daemon default.
		Platform string
		// Output receives the daemon's build progress stream. The same bytes
		// are captured for BuildError.Log on failure. Nil discards progress.
		Output io.Writer
	}

	// Client is the build daemon interface the cache layer consumes.
	Client interface {
		// Name returns the daemon flavor name.
		Name() string
		// Available reports whether the daemon binary exists and responds.
		Available() bool
		// Version returns the daemon server version.
		Version(ctx context.Context) (string, error)

		// QueryTag looks up a reference in the daemon's local store. It never
		// transmits a build context: it operates purely on the tag namespace.
		// A clean negative returns ("", false, nil); a transport failure
		// returns an UnreachableError.
		QueryTag(ctx context.Context, ref string) (ImageID, bool, error)
		// Build streams the context to the daemon and returns the new image's
		// ID. A non-zero build result returns a BuildError carrying the
		// captured daemon log.
		Build(ctx context.Context, req BuildRequest) (ImageID, error)
		// Tag assigns ref to the image with the given ID. Tagging the same
		// content under the same ref is idempotent on every supported daemon.
		Tag(ctx context.Context, id ImageID, ref string) error
		// ResolveDigest resolves a local image reference to its registry
		// digest form (repo@sha256:...), failing with ErrNoRepoDigest when
		// the image was never pulled from or pushed to a registry.
		ResolveDigest(ctx context.Context, ref string) (string, error)
		// SaveImages exports the given references into a tarball at outPath.
		SaveImages(ctx context.Context, refs []string, outPath string) error
	}

	// UnreachableError is returned when the daemon cannot be queried at all,
	// meaning connectivity failed rather than a negative answer.
	UnreachableError struct {
		Daemon string
		Op     string
		Stderr string
		Err    error
	}

	// BuildError is returned when the daemon ran the build and reported
	// failure. Build failures are deterministic given identical inputs, so
	// callers must not retry them.
	BuildError struct {
		// Log is the captured daemon output for the failed build.
		Log string
		Err error
	}
)

// String returns the string representation of the ImageID.
func (id ImageID) String() string { return string(id) }

// Error implements the error interface.
func (e *UnreachableError) Error() string {
	msg := fmt.Sprintf("%s daemon unreachable during %s: %v", e.Daemon, e.Op, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap returns ErrDaemonUnreachable for errors.Is() compatibility.
func (e *UnreachableError) Unwrap() error { return ErrDaemonUnreachable }

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("image build failed: %v", e.Err)
}

// Unwrap returns ErrBuildFailed for errors.Is() compatibility.
func (e *BuildError) Unwrap() error { return ErrBuildFailed }

// NewClient creates a client for the requested daemon kind, falling back to
// the other flavor when the preferred one is not available. Options apply to
// both flavors.
func NewClient(kind Kind, opts ...CLIClientOption) (Client, error) {
	switch kind {
	case KindDocker:
		return pickClient(NewDockerClient(opts...), NewPodmanClient(opts...))
	case KindPodman:
		return pickClient(NewPodmanClient(opts...), NewDockerClient(opts...))
	case KindAuto, "":
		return pickClient(NewDockerClient(opts...), NewPodmanClient(opts...))
	default:
		return nil, fmt.Errorf("unknown build daemon kind: %s", kind)
	}
}

func pickClient(preferred, fallback Client) (Client, error) {
	if preferred.Available() {
		return preferred, nil
	}
	if fallback.Available() {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: neither %s nor %s is installed and responding",
		ErrNoDaemonAvailable, preferred.Name(), fallback.Name())
}
