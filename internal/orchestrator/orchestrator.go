// SPDX-License-Identifier: MPL-2.0

// Package orchestrator schedules bundle builds: it turns a bundle's requires
// edges into a dependency graph, runs independent components concurrently
// under a parallelism bound, and assembles the resulting manifest. A failed
// component takes down only its transitive dependents; everything else keeps
// building.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/distribution/reference"
	"golang.org/x/sync/semaphore"

	"github.com/cnabforge/cnabforge/internal/cas"
	"github.com/cnabforge/cnabforge/internal/daemon"
	"github.com/cnabforge/cnabforge/internal/dag"
	"github.com/cnabforge/cnabforge/internal/fingerprint"
	"github.com/cnabforge/cnabforge/pkg/bundlespec"
)

// DefaultParallelism bounds concurrent component builds when the caller does
// not choose one.
const DefaultParallelism = 4

var (
	// ErrDependencyFailed is the sentinel error wrapped by DependencyFailedError.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrBundleIncomplete is the sentinel error wrapped by IncompleteError.
	ErrBundleIncomplete = errors.New("bundle build incomplete")
)

type (
	// Options configures an Orchestrator.
	Options struct {
		// Parallelism bounds how many component builds run at once. Zero or
		// negative selects DefaultParallelism.
		Parallelism int
		// RepositoryPrefix prefixes every component's cache repository. Empty
		// falls back to the bundle name.
		RepositoryPrefix string
		// Progress receives daemon build output. Nil discards it.
		Progress io.Writer
		// Logger receives orchestration events. Nil disables logging.
		Logger *log.Logger
	}

	// Orchestrator drives a full bundle build against one daemon client.
	Orchestrator struct {
		client      daemon.Client
		coordinator *cas.Coordinator
		logger      *log.Logger
		parallelism int64
		repoPrefix  string
		progress    io.Writer
	}

	// DependencyFailedError marks a component that was never built because
	// one of its dependencies failed.
	DependencyFailedError struct {
		Component  string
		Dependency string
	}

	// IncompleteError reports that a bundle build finished with failed
	// components. The partial manifest is still returned alongside it.
	IncompleteError struct {
		Failed int
	}

	// componentState tracks one component through the run. done is closed
	// exactly once, after handle/outcome/err are final.
	componentState struct {
		handle  *cas.ImageHandle
		outcome cas.Outcome
		err     error
		done    chan struct{}
	}
)

// Error implements the error interface.
func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("component %q not built: dependency %q failed", e.Component, e.Dependency)
}

// Unwrap returns ErrDependencyFailed for errors.Is() compatibility.
func (e *DependencyFailedError) Unwrap() error { return ErrDependencyFailed }

// Error implements the error interface.
func (e *IncompleteError) Error() string {
	return fmt.Sprintf("bundle build incomplete: %d component(s) failed", e.Failed)
}

// Unwrap returns ErrBundleIncomplete for errors.Is() compatibility.
func (e *IncompleteError) Unwrap() error { return ErrBundleIncomplete }

// New creates an Orchestrator on top of the given daemon client.
func New(client daemon.Client, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	parallelism := int64(opts.Parallelism)
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Orchestrator{
		client:      client,
		coordinator: cas.NewCoordinator(client, logger),
		logger:      logger,
		parallelism: parallelism,
		repoPrefix:  opts.RepositoryPrefix,
		progress:    opts.Progress,
	}
}

// BuildBundle builds every component of spec and returns the manifest.
//
// The dependency graph is validated before any build starts: a cycle fails
// the whole run with a CycleError and touches nothing. Mutable base image
// references are pinned to digests exactly once, at the start of the run, so
// every component of one run sees the same base content.
//
// Component failures do not abort the run. The failed component and its
// transitive dependents land in the manifest's Failures; every independent
// component still builds. When any component failed, the partial manifest is
// returned together with an IncompleteError.
//
// Cancelling ctx stops scheduling immediately. Builds already handed to the
// daemon run to completion so the daemon's store is never left with a
// half-tagged image, but their results are discarded and ctx.Err() is
// returned with whatever manifest had accumulated.
func (o *Orchestrator) BuildBundle(ctx context.Context, spec *bundlespec.BundleSpec) (*bundlespec.Manifest, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	graph := buildGraph(spec)
	if _, err := graph.TopologicalSort(); err != nil {
		return nil, err
	}

	builderVersion, err := o.client.Version(ctx)
	if err != nil {
		o.logger.Warn("could not determine daemon version", "err", err)
	}

	pins := o.pinBaseImages(ctx, spec)

	states := make(map[string]*componentState, len(spec.Components))
	for _, name := range spec.ComponentNames() {
		states[name] = &componentState{done: make(chan struct{})}
	}

	// Builds must survive cancellation once started; scheduling must not.
	buildCtx := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(o.parallelism)

	var wg sync.WaitGroup
	for _, name := range spec.ComponentNames() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			state := states[name]
			defer close(state.done)
			state.handle, state.outcome, state.err = o.buildComponent(
				ctx, buildCtx, sem, spec, graph, states, pins, builderVersion, name)
			if state.err != nil && !errors.Is(state.err, ErrDependencyFailed) {
				if skipped := graph.TransitiveDependents(name); len(skipped) > 0 {
					o.logger.Warn("component failed, dependents will be skipped",
						"component", name, "dependents", skipped)
				}
			}
		}(name)
	}
	wg.Wait()

	manifest := o.assembleManifest(spec, states)
	if ctx.Err() != nil {
		return manifest, ctx.Err()
	}
	if !manifest.Complete() {
		return manifest, &IncompleteError{Failed: len(manifest.Failures)}
	}
	return manifest, nil
}

// buildComponent waits for the component's dependencies, then runs the build
// under the parallelism bound. It is the only writer of the component's state.
func (o *Orchestrator) buildComponent(
	ctx, buildCtx context.Context,
	sem *semaphore.Weighted,
	spec *bundlespec.BundleSpec,
	graph *dag.Graph,
	states map[string]*componentState,
	pins map[string]pinResult,
	builderVersion string,
	name string,
) (*cas.ImageHandle, cas.Outcome, error) {
	component := spec.Components[name]

	for _, dep := range graph.Dependencies(name) {
		depState := states[dep]
		<-depState.done
		if depState.err != nil {
			return nil, "", &DependencyFailedError{Component: name, Dependency: dep}
		}
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, "", fmt.Errorf("component %q not scheduled: %w", name, err)
	}
	defer sem.Release(1)

	params, err := o.componentParams(component, graph, states, pins, builderVersion)
	if err != nil {
		return nil, "", err
	}

	handle, outcome, err := o.coordinator.Ensure(buildCtx, cas.BuildInput{
		Name:       name,
		ContextDir: component.Context,
		Ignore:     component.Ignore,
		Params:     params,
		Repository: o.repository(spec, name),
		Progress:   o.progress,
	})
	if err != nil {
		return nil, "", fmt.Errorf("component %q: %w", name, err)
	}
	return handle, outcome, nil
}

// componentParams assembles the fingerprint parameters for one component.
// Dependency image references enter as build args, which makes a dependency's
// fingerprint part of the dependent's: a changed dependency invalidates the
// whole downstream subtree with no extra machinery.
func (o *Orchestrator) componentParams(
	component *bundlespec.ComponentSpec,
	graph *dag.Graph,
	states map[string]*componentState,
	pins map[string]pinResult,
	builderVersion string,
) (fingerprint.Params, error) {
	args := component.OrderedArgs()
	for _, dep := range component.RequiredComponents() {
		args = append(args, fingerprint.BuildArg{
			Name:  component.Requires[dep],
			Value: states[dep].handle.Ref,
		})
	}

	bases := make([]string, 0, len(component.BaseImages))
	for _, ref := range component.BaseImages {
		pin := pins[ref]
		if pin.err != nil {
			return fingerprint.Params{}, fmt.Errorf("component %q: pin base image %q: %w",
				component.Name, ref, pin.err)
		}
		bases = append(bases, pin.pinned)
	}

	params := fingerprint.Params{
		Args:           args,
		Dockerfile:     component.Dockerfile,
		Platform:       component.Platform,
		BaseImages:     bases,
		BuilderVersion: builderVersion,
	}
	if err := params.Validate(); err != nil {
		return fingerprint.Params{}, fmt.Errorf("component %q: %w", component.Name, err)
	}
	return params, nil
}

type pinResult struct {
	pinned string
	err    error
}

// pinBaseImages resolves every mutable base image reference in the bundle to
// its digest form, once per distinct reference. Already-pinned references pass
// through untouched. A resolution failure is recorded, not fatal: only the
// components using that reference fail.
func (o *Orchestrator) pinBaseImages(ctx context.Context, spec *bundlespec.BundleSpec) map[string]pinResult {
	pins := make(map[string]pinResult)
	for _, name := range spec.ComponentNames() {
		for _, ref := range spec.Components[name].BaseImages {
			if _, seen := pins[ref]; seen {
				continue
			}
			pins[ref] = o.pinRef(ctx, ref)
		}
	}
	return pins
}

func (o *Orchestrator) pinRef(ctx context.Context, ref string) pinResult {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return pinResult{err: err}
	}
	if _, ok := named.(reference.Digested); ok {
		return pinResult{pinned: ref}
	}

	pinned, err := o.client.ResolveDigest(ctx, ref)
	if err != nil {
		return pinResult{err: err}
	}
	o.logger.Info("pinned base image", "ref", ref, "digest", pinned)
	return pinResult{pinned: pinned}
}

// repository derives the cache repository for one component.
func (o *Orchestrator) repository(spec *bundlespec.BundleSpec, component string) string {
	prefix := o.repoPrefix
	if prefix == "" {
		prefix = spec.Name
	}
	return cas.RepositoryName(prefix, component)
}

// assembleManifest folds the per-component states into a manifest,
// deterministically ordered by component name.
func (o *Orchestrator) assembleManifest(spec *bundlespec.BundleSpec, states map[string]*componentState) *bundlespec.Manifest {
	manifest := &bundlespec.Manifest{
		Name:            spec.Name,
		Version:         spec.Version,
		Description:     spec.Description,
		InvocationImage: spec.InvocationImage,
		Components:      make(map[string]bundlespec.ComponentResult),
	}
	for _, name := range spec.ComponentNames() {
		state := states[name]
		if state.err != nil {
			manifest.Failures = append(manifest.Failures, bundlespec.ComponentFailure{
				Name:   name,
				Reason: state.err.Error(),
			})
			continue
		}
		manifest.Components[name] = bundlespec.ComponentResult{
			Name:        name,
			Fingerprint: state.handle.Fingerprint,
			Ref:         state.handle.Ref,
			ImageID:     state.handle.ID.String(),
			Outcome:     state.outcome.String(),
		}
	}
	return manifest
}

// Archive exports every image of a complete manifest into a tarball at
// outPath via the daemon's save mechanism.
func (o *Orchestrator) Archive(ctx context.Context, manifest *bundlespec.Manifest, outPath string) error {
	if !manifest.Complete() {
		return &IncompleteError{Failed: len(manifest.Failures)}
	}
	return o.client.SaveImages(ctx, manifest.ImageRefs(), outPath)
}

// buildGraph assembles the dependency graph: an edge from dependency to
// dependent for every requires entry.
func buildGraph(spec *bundlespec.BundleSpec) *dag.Graph {
	graph := dag.New()
	for _, name := range spec.ComponentNames() {
		graph.AddNode(name)
	}
	for _, name := range spec.ComponentNames() {
		for _, dep := range spec.Components[name].RequiredComponents() {
			graph.AddEdge(dep, name)
		}
	}
	return graph
}
