// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// podmanNotFoundPhrases classify podman inspect stderr as a clean negative.
var podmanNotFoundPhrases = []string{
	"image not known",
	"no such image",
	"failed to find image",
}

// PodmanClient drives Podman through the podman CLI. Podman builds with
// Buildah semantics, which accept the same build/tag/save surface this tool
// uses.
type PodmanClient struct {
	*baseCLIClient
}

// NewPodmanClient creates a Podman client, resolving the podman binary from PATH.
func NewPodmanClient(opts ...CLIClientOption) *PodmanClient {
	path, _ := exec.LookPath("podman")
	return &PodmanClient{
		baseCLIClient: newBaseCLIClient(
			string(KindPodman),
			path,
			nil,
			podmanNotFoundPhrases,
			opts...,
		),
	}
}

// Available checks that the podman binary exists and responds.
func (c *PodmanClient) Available() bool {
	if c.BinaryPath() == "" {
		return false
	}
	cmd := c.createCommand(context.Background(), "version", "--format", "{{.Client.Version}}")
	return cmd.Run() == nil
}

// Version returns the Podman version.
func (c *PodmanClient) Version(ctx context.Context) (string, error) {
	cmd := c.createCommand(ctx, "version", "--format", "{{.Client.Version}}")
	out, err := cmd.Output()
	if err != nil {
		return "", &UnreachableError{Daemon: c.Name(), Op: "version", Err: err}
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "", fmt.Errorf("podman reported an empty version")
	}
	return v, nil
}
