// SPDX-License-Identifier: MPL-2.0

// Package bundlespec defines the typed bundle specification this tool builds
// from, and the manifest it produces. Loose input files are validated once at
// load time against a CUE schema; everything past that point operates on the
// closed types here.
package bundlespec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cnabforge/cnabforge/internal/fingerprint"
)

var (
	// ErrInvalidBundleSpec is the sentinel error wrapped by InvalidSpecError.
	ErrInvalidBundleSpec = errors.New("invalid bundle specification")

	// ErrUnknownComponent is the sentinel error wrapped by UnknownComponentError.
	ErrUnknownComponent = errors.New("unknown component")
)

type (
	// ComponentSpec describes one logical component: where its build context
	// lives, the parameters shaping its build, and which sibling outputs it
	// embeds.
	ComponentSpec struct {
		// Name is the component's key in the bundle.
		Name string `json:"-"`
		// Context is the build context directory, absolute after Load.
		Context string `json:"context"`
		// Dockerfile is the instruction file relative to Context, empty for
		// the daemon default.
		Dockerfile string `json:"dockerfile,omitempty"`
		// Platform is the target platform, empty for the daemon default.
		Platform string `json:"platform,omitempty"`
		// BaseImages are declared base image references; mutable tags are
		// pinned to digests once per bundle run.
		BaseImages []string `json:"baseImages,omitempty"`
		// Args are build-time variables. The map form comes from the spec
		// file; OrderedArgs provides the canonical ordering.
		Args map[string]string `json:"args,omitempty"`
		// Requires maps a dependency component name to the build-arg name its
		// resulting image reference is injected under. Each entry is a
		// build-order edge.
		Requires map[string]string `json:"requires,omitempty"`
		// Ignore are exclusion patterns applied before fingerprinting.
		Ignore []string `json:"ignore,omitempty"`
	}

	// BundleSpec is a validated bundle: a set of components, one of which
	// provides the CNAB invocation image.
	BundleSpec struct {
		Name            string                    `json:"name"`
		Version         string                    `json:"version"`
		Description     string                    `json:"description,omitempty"`
		InvocationImage string                    `json:"invocationImage"`
		Components      map[string]*ComponentSpec `json:"components"`

		// Dir is the directory the spec was loaded from; component contexts
		// resolve relative to it.
		Dir string `json:"-"`
	}

	// InvalidSpecError reports a structural problem in a bundle spec.
	InvalidSpecError struct {
		Reason string
	}

	// UnknownComponentError reports a reference to a component that does not
	// exist in the bundle.
	UnknownComponentError struct {
		Component string
		Referrer  string
	}
)

// Error implements the error interface.
func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid bundle specification: %s", e.Reason)
}

// Unwrap returns ErrInvalidBundleSpec for errors.Is() compatibility.
func (e *InvalidSpecError) Unwrap() error { return ErrInvalidBundleSpec }

// Error implements the error interface.
func (e *UnknownComponentError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("component %q references unknown component %q", e.Referrer, e.Component)
	}
	return fmt.Sprintf("unknown component %q", e.Component)
}

// Unwrap returns ErrUnknownComponent for errors.Is() compatibility.
func (e *UnknownComponentError) Unwrap() error { return ErrUnknownComponent }

// OrderedArgs returns the component's build args sorted by name. Sorting
// makes the ordering canonical, so the fingerprint never depends on map
// iteration order.
func (c *ComponentSpec) OrderedArgs() []fingerprint.BuildArg {
	names := make([]string, 0, len(c.Args))
	for name := range c.Args {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]fingerprint.BuildArg, len(names))
	for i, name := range names {
		args[i] = fingerprint.BuildArg{Name: name, Value: c.Args[name]}
	}
	return args
}

// RequiredComponents returns the dependency component names sorted for
// deterministic traversal.
func (c *ComponentSpec) RequiredComponents() []string {
	deps := make([]string, 0, len(c.Requires))
	for dep := range c.Requires {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// ComponentNames returns all component names sorted.
func (s *BundleSpec) ComponentNames() []string {
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks cross-component consistency: the invocation image must be a
// declared component and every requires edge must point at one. Cycle
// detection happens later, when the orchestrator assembles the graph.
func (s *BundleSpec) Validate() error {
	if len(s.Components) == 0 {
		return &InvalidSpecError{Reason: "bundle declares no components"}
	}
	if _, ok := s.Components[s.InvocationImage]; !ok {
		return &UnknownComponentError{Component: s.InvocationImage}
	}

	for _, name := range s.ComponentNames() {
		component := s.Components[name]
		for _, dep := range component.RequiredComponents() {
			if dep == name {
				return &InvalidSpecError{Reason: fmt.Sprintf("component %q requires itself", name)}
			}
			if _, ok := s.Components[dep]; !ok {
				return &UnknownComponentError{Component: dep, Referrer: name}
			}
			if argName := component.Requires[dep]; argName == "" {
				return &InvalidSpecError{
					Reason: fmt.Sprintf("component %q requires %q without a build-arg name", name, dep),
				}
			}
		}
	}
	return nil
}
