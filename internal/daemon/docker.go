// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// dockerNotFoundPhrases classify docker inspect stderr as a clean negative.
var dockerNotFoundPhrases = []string{
	"no such image",
	"no such object",
}

// DockerClient drives the Docker daemon through the docker CLI. BuildKit is
// forced on every invocation so build behavior does not depend on the host's
// default builder.
type DockerClient struct {
	*baseCLIClient
}

// NewDockerClient creates a Docker client, resolving the docker binary from PATH.
func NewDockerClient(opts ...CLIClientOption) *DockerClient {
	path, _ := exec.LookPath("docker")
	return &DockerClient{
		baseCLIClient: newBaseCLIClient(
			string(KindDocker),
			path,
			[]string{"DOCKER_BUILDKIT=1"},
			dockerNotFoundPhrases,
			opts...,
		),
	}
}

// Available checks that the docker binary exists and the daemon responds.
func (c *DockerClient) Available() bool {
	if c.BinaryPath() == "" {
		return false
	}
	cmd := c.createCommand(context.Background(), "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

// Version returns the Docker server version.
func (c *DockerClient) Version(ctx context.Context) (string, error) {
	cmd := c.createCommand(ctx, "version", "--format", "{{.Server.Version}}")
	out, err := cmd.Output()
	if err != nil {
		return "", &UnreachableError{Daemon: c.Name(), Op: "version", Err: err}
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "", fmt.Errorf("docker reported an empty server version")
	}
	return v, nil
}
