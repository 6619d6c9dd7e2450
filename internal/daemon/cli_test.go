// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cnabforge/cnabforge/internal/fingerprint"
)

func mockDocker(t *testing.T, recorder *MockCommandRecorder) *DockerClient {
	t.Helper()
	return NewDockerClient(
		WithBinaryPath("/usr/bin/docker"),
		WithExecCommand(recorder.CommandFunc(t)),
	)
}

func TestQueryTag_Found(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.Stdout = "sha256:abc123\n"
	client := mockDocker(t, recorder)

	id, found, err := client.QueryTag(context.Background(), "app:cas-deadbeef")
	if err != nil {
		t.Fatalf("QueryTag() error: %v", err)
	}
	if !found {
		t.Fatal("expected the tag to be found")
	}
	if id != "sha256:abc123" {
		t.Errorf("QueryTag() id = %q, want %q", id, "sha256:abc123")
	}
	recorder.AssertArgsContainAll(t, []string{"image", "inspect", "app:cas-deadbeef", "{{.Id}}"})
}

func TestQueryTag_CleanMiss(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.ExitCode = 1
	recorder.Stderr = "Error: No such image: app:cas-deadbeef"
	client := mockDocker(t, recorder)

	id, found, err := client.QueryTag(context.Background(), "app:cas-deadbeef")
	if err != nil {
		t.Fatalf("a negative lookup must not be an error, got: %v", err)
	}
	if found || id != "" {
		t.Errorf("expected a clean miss, got id=%q found=%v", id, found)
	}
}

func TestQueryTag_DaemonDown(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.ExitCode = 1
	recorder.Stderr = "Cannot connect to the Docker daemon at unix:///var/run/docker.sock"
	client := mockDocker(t, recorder)

	_, _, err := client.QueryTag(context.Background(), "app:cas-deadbeef")
	if !errors.Is(err, ErrDaemonUnreachable) {
		t.Errorf("expected ErrDaemonUnreachable, got %v", err)
	}
}

func TestQueryTag_PodmanMissPhrase(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.ExitCode = 125
	recorder.Stderr = "Error: app:cas-deadbeef: image not known"
	client := NewPodmanClient(
		WithBinaryPath("/usr/bin/podman"),
		WithExecCommand(recorder.CommandFunc(t)),
	)

	_, found, err := client.QueryTag(context.Background(), "app:cas-deadbeef")
	if err != nil || found {
		t.Errorf("expected clean miss, got found=%v err=%v", found, err)
	}
}

func TestBuild_ArgumentsAndIIDFile(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.IIDFileContent = "sha256:built123\n"
	client := mockDocker(t, recorder)

	req := BuildRequest{
		ContextDir: "/tmp/ctx",
		Dockerfile: "Dockerfile.custom",
		Tags:       []string{"app:cas-deadbeef"},
		Args: []fingerprint.BuildArg{
			{Name: "VERSION", Value: "1.2"},
			{Name: "MODE", Value: "release"},
		},
		Platform: "linux/amd64",
	}

	id, err := client.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if id != "sha256:built123" {
		t.Errorf("Build() id = %q, want %q", id, "sha256:built123")
	}

	recorder.AssertArgsContainAll(t, []string{
		"build", "--iidfile",
		"-f /tmp/ctx/Dockerfile.custom",
		"--platform linux/amd64",
		"-t app:cas-deadbeef",
		"--build-arg VERSION=1.2",
		"--build-arg MODE=release",
	})

	// The context directory is always the final argument.
	args := recorder.LastArgs()
	if args[len(args)-1] != "/tmp/ctx" {
		t.Errorf("context dir should be the last argument, got %v", args)
	}
}

func TestBuild_ArgOrderPreserved(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.IIDFileContent = "sha256:x"
	client := mockDocker(t, recorder)

	req := BuildRequest{
		ContextDir: "/tmp/ctx",
		Args: []fingerprint.BuildArg{
			{Name: "B", Value: "2"},
			{Name: "A", Value: "1"},
		},
	}
	if _, err := client.Build(context.Background(), req); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	joined := strings.Join(recorder.LastArgs(), " ")
	if strings.Index(joined, "B=2") > strings.Index(joined, "A=1") {
		t.Errorf("build args reordered: %s", joined)
	}
}

func TestBuild_FailureCapturesLog(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.ExitCode = 1
	recorder.Stderr = "Step 3/7 : RUN make\nmake: *** [all] Error 2"
	client := mockDocker(t, recorder)

	var progress bytes.Buffer
	_, err := client.Build(context.Background(), BuildRequest{ContextDir: "/tmp/ctx", Output: &progress})
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed, got %v", err)
	}

	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected *BuildError, got %T", err)
	}
	if !strings.Contains(buildErr.Log, "Error 2") {
		t.Errorf("BuildError.Log missing daemon output: %q", buildErr.Log)
	}
	if !strings.Contains(progress.String(), "Error 2") {
		t.Error("progress writer did not receive the daemon output")
	}
}

func TestTag_Arguments(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	client := mockDocker(t, recorder)

	if err := client.Tag(context.Background(), "sha256:abc", "app:cas-deadbeef"); err != nil {
		t.Fatalf("Tag() error: %v", err)
	}
	recorder.AssertArgsContainAll(t, []string{"tag", "sha256:abc", "app:cas-deadbeef"})
}

func TestResolveDigest(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.Stdout = "docker.io/library/alpine@sha256:4edbd2beb5f78b1014028f4fbb99f3237d9561100b6881aabbf5acce2c4f9454\n"
	client := mockDocker(t, recorder)

	pinned, err := client.ResolveDigest(context.Background(), "alpine:3.20")
	if err != nil {
		t.Fatalf("ResolveDigest() error: %v", err)
	}
	if !strings.Contains(pinned, "@sha256:") {
		t.Errorf("ResolveDigest() = %q, want a digested reference", pinned)
	}
}

func TestResolveDigest_NeverPulled(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.Stdout = "\n"
	client := mockDocker(t, recorder)

	_, err := client.ResolveDigest(context.Background(), "local-only:dev")
	if !errors.Is(err, ErrNoRepoDigest) {
		t.Errorf("expected ErrNoRepoDigest, got %v", err)
	}
}

func TestSaveImages_Arguments(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	client := mockDocker(t, recorder)

	err := client.SaveImages(context.Background(), []string{"a:cas-1", "b:cas-2"}, "/tmp/images.tar")
	if err != nil {
		t.Fatalf("SaveImages() error: %v", err)
	}
	recorder.AssertArgsContainAll(t, []string{"save", "--output /tmp/images.tar", "a:cas-1", "b:cas-2"})
}

func TestSaveImages_Empty(t *testing.T) {
	t.Parallel()

	client := mockDocker(t, NewMockCommandRecorder())
	if err := client.SaveImages(context.Background(), nil, "/tmp/out.tar"); err == nil {
		t.Error("expected an error for an empty reference list")
	}
}

func TestNewClient_UnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("buildah"); err == nil {
		t.Error("NewClient with unknown kind should return an error")
	}
}
