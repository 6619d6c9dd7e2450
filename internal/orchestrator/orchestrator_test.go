// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cnabforge/cnabforge/internal/daemon"
	"github.com/cnabforge/cnabforge/internal/dag"
	"github.com/cnabforge/cnabforge/pkg/bundlespec"
)

// componentDir creates a build context holding a single Dockerfile.
func componentDir(t *testing.T, dockerfile string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// chainBundle is a base component plus a web component embedding it.
func chainBundle(t *testing.T) *bundlespec.BundleSpec {
	t.Helper()
	return &bundlespec.BundleSpec{
		Name:            "shop",
		Version:         "1.0.0",
		InvocationImage: "web",
		Components: map[string]*bundlespec.ComponentSpec{
			"base": {
				Name:    "base",
				Context: componentDir(t, "FROM scratch\nCOPY . /\n"),
			},
			"web": {
				Name:     "web",
				Context:  componentDir(t, "ARG BASE_IMAGE\nFROM ${BASE_IMAGE}\n"),
				Requires: map[string]string{"base": "BASE_IMAGE"},
			},
		},
	}
}

func TestBuildBundle_DependencyOrderAndInjection(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	spec := chainBundle(t)

	manifest, err := New(client, Options{}).BuildBundle(context.Background(), spec)
	if err != nil {
		t.Fatalf("BuildBundle() error: %v", err)
	}
	if !manifest.Complete() {
		t.Fatalf("manifest has failures: %+v", manifest.Failures)
	}

	builds := client.buildRequests()
	if len(builds) != 2 {
		t.Fatalf("got %d builds, want 2", len(builds))
	}
	if !strings.HasPrefix(builds[0].Tags[0], "shop/base:") {
		t.Errorf("first build was %q, want the dependency", builds[0].Tags[0])
	}

	baseRef := manifest.Components["base"].Ref
	var injected bool
	for _, arg := range builds[1].Args {
		if arg.Name == "BASE_IMAGE" && arg.Value == baseRef {
			injected = true
		}
	}
	if !injected {
		t.Errorf("dependent build args %+v do not carry BASE_IMAGE=%q", builds[1].Args, baseRef)
	}

	for _, name := range []string{"base", "web"} {
		if got := manifest.Components[name].Outcome; got != "miss" {
			t.Errorf("component %q outcome = %q, want %q", name, got, "miss")
		}
	}
}

func TestBuildBundle_SecondRunHitsCache(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	spec := chainBundle(t)

	if _, err := New(client, Options{}).BuildBundle(context.Background(), spec); err != nil {
		t.Fatalf("first run: %v", err)
	}
	manifest, err := New(client, Options{}).BuildBundle(context.Background(), spec)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := client.buildCount(); got != 2 {
		t.Errorf("got %d builds across both runs, want 2", got)
	}
	for _, name := range []string{"base", "web"} {
		if got := manifest.Components[name].Outcome; got != "hit" {
			t.Errorf("component %q outcome = %q, want %q", name, got, "hit")
		}
	}
}

func TestBuildBundle_CycleFailsBeforeAnyBuild(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	spec := &bundlespec.BundleSpec{
		Name:            "tangle",
		Version:         "1.0.0",
		InvocationImage: "a",
		Components: map[string]*bundlespec.ComponentSpec{
			"a": {Name: "a", Context: componentDir(t, "FROM scratch\n"), Requires: map[string]string{"b": "B"}},
			"b": {Name: "b", Context: componentDir(t, "FROM scratch\n"), Requires: map[string]string{"a": "A"}},
		},
	}

	_, err := New(client, Options{}).BuildBundle(context.Background(), spec)
	var cycleErr *dag.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("got %v, want CycleError", err)
	}
	if got := client.buildCount(); got != 0 {
		t.Errorf("a cyclic bundle triggered %d builds, want 0", got)
	}
}

func TestBuildBundle_PartialFailure(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.failRepos["web/bad"] = true
	spec := &bundlespec.BundleSpec{
		Name:            "web",
		Version:         "1.0.0",
		InvocationImage: "solo",
		Components: map[string]*bundlespec.ComponentSpec{
			"bad":   {Name: "bad", Context: componentDir(t, "FROM scratch\nRUN false\n")},
			"child": {Name: "child", Context: componentDir(t, "FROM scratch\n"), Requires: map[string]string{"bad": "BAD_IMAGE"}},
			"solo":  {Name: "solo", Context: componentDir(t, "FROM scratch\n")},
		},
	}

	manifest, err := New(client, Options{}).BuildBundle(context.Background(), spec)
	if !errors.Is(err, ErrBundleIncomplete) {
		t.Fatalf("got %v, want ErrBundleIncomplete", err)
	}

	if _, ok := manifest.Components["solo"]; !ok {
		t.Error("independent component should still have built")
	}
	if len(manifest.Failures) != 2 {
		t.Fatalf("failures = %+v, want bad and child", manifest.Failures)
	}

	reasons := make(map[string]string)
	for _, failure := range manifest.Failures {
		reasons[failure.Name] = failure.Reason
	}
	if !strings.Contains(reasons["bad"], "build failed") {
		t.Errorf("bad's reason = %q", reasons["bad"])
	}
	if !strings.Contains(reasons["child"], `dependency "bad" failed`) {
		t.Errorf("child's reason = %q", reasons["child"])
	}

	// bad was attempted, solo built, child never started.
	if got := client.buildCount(); got != 2 {
		t.Errorf("got %d builds, want 2", got)
	}
}

func TestBuildBundle_PinsEachBaseImageOnce(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.resolved["alpine:3.20"] = "docker.io/library/alpine@sha256:4edbd2beb5f78b1014028f4fbb99f3237d9561100b6881aabbf5acce2c4f9454"
	spec := &bundlespec.BundleSpec{
		Name:            "twin",
		Version:         "1.0.0",
		InvocationImage: "a",
		Components: map[string]*bundlespec.ComponentSpec{
			"a": {Name: "a", Context: componentDir(t, "FROM alpine:3.20\n"), BaseImages: []string{"alpine:3.20"}},
			"b": {Name: "b", Context: componentDir(t, "FROM alpine:3.20\n"), BaseImages: []string{"alpine:3.20"}},
		},
	}

	manifest, err := New(client, Options{}).BuildBundle(context.Background(), spec)
	if err != nil {
		t.Fatalf("BuildBundle() error: %v", err)
	}
	if !manifest.Complete() {
		t.Fatalf("manifest has failures: %+v", manifest.Failures)
	}
	if got := client.resolveCalls["alpine:3.20"]; got != 1 {
		t.Errorf("base image resolved %d times, want once per run", got)
	}
}

func TestBuildBundle_PinFailureFailsOnlyUsers(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	spec := &bundlespec.BundleSpec{
		Name:            "mixed",
		Version:         "1.0.0",
		InvocationImage: "clean",
		Components: map[string]*bundlespec.ComponentSpec{
			"clean":  {Name: "clean", Context: componentDir(t, "FROM scratch\n")},
			"ghosty": {Name: "ghosty", Context: componentDir(t, "FROM ghost:1\n"), BaseImages: []string{"ghost:1"}},
		},
	}

	manifest, err := New(client, Options{}).BuildBundle(context.Background(), spec)
	if !errors.Is(err, ErrBundleIncomplete) {
		t.Fatalf("got %v, want ErrBundleIncomplete", err)
	}
	if _, ok := manifest.Components["clean"]; !ok {
		t.Error("component without the broken base should have built")
	}
	if len(manifest.Failures) != 1 || manifest.Failures[0].Name != "ghosty" {
		t.Errorf("failures = %+v, want only ghosty", manifest.Failures)
	}
	if !strings.Contains(manifest.Failures[0].Reason, "ghost:1") {
		t.Errorf("reason = %q, want the unresolved reference named", manifest.Failures[0].Reason)
	}
}

func TestBuildBundle_ParallelismBound(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.buildStarted = make(chan string, 3)
	client.buildRelease = make(chan struct{})
	spec := &bundlespec.BundleSpec{
		Name:            "fanout",
		Version:         "1.0.0",
		InvocationImage: "a",
		Components: map[string]*bundlespec.ComponentSpec{
			"a": {Name: "a", Context: componentDir(t, "FROM scratch\n")},
			"b": {Name: "b", Context: componentDir(t, "FROM scratch\n")},
			"c": {Name: "c", Context: componentDir(t, "FROM scratch\n")},
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := New(client, Options{Parallelism: 2}).BuildBundle(context.Background(), spec); err != nil {
			t.Errorf("BuildBundle() error: %v", err)
		}
	}()

	<-client.buildStarted
	<-client.buildStarted
	select {
	case tag := <-client.buildStarted:
		t.Errorf("third build %q started past the parallelism bound", tag)
	case <-time.After(100 * time.Millisecond):
	}

	close(client.buildRelease)
	<-done

	if got := client.buildCount(); got != 3 {
		t.Errorf("got %d builds, want 3", got)
	}
}

func TestBuildBundle_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	manifest, err := New(client, Options{}).BuildBundle(ctx, chainBundle(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if got := client.buildCount(); got != 0 {
		t.Errorf("a cancelled run triggered %d builds, want 0", got)
	}
	if manifest == nil || len(manifest.Failures) != 2 {
		t.Errorf("manifest = %+v, want both components recorded as failed", manifest)
	}
}

func TestArchive_RefusesIncompleteManifest(t *testing.T) {
	t.Parallel()

	manifest := &bundlespec.Manifest{
		Name:     "shop",
		Failures: []bundlespec.ComponentFailure{{Name: "web", Reason: "boom"}},
	}
	err := New(newFakeClient(), Options{}).Archive(context.Background(), manifest, "/tmp/out.tar")
	if !errors.Is(err, ErrBundleIncomplete) {
		t.Fatalf("got %v, want ErrBundleIncomplete", err)
	}
}

var _ daemon.Client = (*fakeClient)(nil)

// TestBuildBundle_DependencyChangeInvalidatesDependent changes only the
// dependency's context between two runs. The dependent's own files are
// untouched, but its injected dependency ref changes, so it must fingerprint
// differently and rebuild.
func TestBuildBundle_DependencyChangeInvalidatesDependent(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	spec := chainBundle(t)

	first, err := New(client, Options{}).BuildBundle(context.Background(), spec)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	baseCtx := spec.Components["base"].Context
	if err := os.WriteFile(filepath.Join(baseCtx, "extra.txt"), []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	second, err := New(client, Options{}).BuildBundle(context.Background(), spec)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.Components["base"].Ref == first.Components["base"].Ref {
		t.Errorf("base ref unchanged after context change: %s", first.Components["base"].Ref)
	}
	if second.Components["web"].Ref == first.Components["web"].Ref {
		t.Errorf("web ref unchanged though its dependency changed: %s", first.Components["web"].Ref)
	}
	for _, name := range []string{"base", "web"} {
		if got := second.Components[name].Outcome; got != "miss" {
			t.Errorf("second run component %q outcome = %q, want %q", name, got, "miss")
		}
	}
	if got := client.buildCount(); got != 4 {
		t.Errorf("got %d builds across both runs, want 4", got)
	}
	// The first run's tags stay untouched in the daemon's store.
	for _, name := range []string{"base", "web"} {
		if !client.hasTag(first.Components[name].Ref) {
			t.Errorf("first-run tag %s was removed", first.Components[name].Ref)
		}
	}
}
