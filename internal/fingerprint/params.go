// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

var (
	// ErrInvalidBuildArg is the sentinel error wrapped by InvalidBuildArgError.
	ErrInvalidBuildArg = errors.New("invalid build argument")

	// ErrUnpinnedBaseImage is the sentinel error wrapped by UnpinnedBaseImageError.
	ErrUnpinnedBaseImage = errors.New("base image reference is not pinned to a digest")
)

type (
	// BuildArg is one build-time variable. Order matters for identity, so
	// arguments are carried as a slice rather than a map.
	BuildArg struct {
		Name  string
		Value string
	}

	// Params captures every build-daemon input besides the context tree that
	// can change the produced image. All of it folds into the fingerprint.
	Params struct {
		// Args are the build arguments in declaration order. Names must be
		// unique and non-empty.
		Args []BuildArg
		// Dockerfile is the path of the build instruction file relative to the
		// context root. Empty means the daemon default ("Dockerfile"). The
		// file itself is part of the context and hashed there; the selection
		// of which file to use is a parameter.
		Dockerfile string
		// Platform is the target platform (e.g. "linux/amd64"). Empty means
		// the daemon default.
		Platform string
		// BaseImages are the declared base image references, each pinned to an
		// immutable digest. Mutable tags are rejected by Validate: a tag can
		// move, which would silently change what an identical fingerprint
		// rebuilds to.
		BaseImages []string
		// BuilderVersion identifies the build daemon version/feature set the
		// build ran under. Daemon upgrades that change output change identity.
		BuilderVersion string
		// Features are builder feature flags in effect, sorted by Validate's
		// caller or not at all; canonicalization sorts a copy.
		Features []string
	}

	// InvalidBuildArgError is returned when a build argument has an empty or
	// duplicated name.
	InvalidBuildArgError struct {
		Name   string
		Reason string
	}

	// UnpinnedBaseImageError is returned when a base image reference carries
	// no digest or does not parse at all.
	UnpinnedBaseImageError struct {
		Ref string
		Err error
	}
)

// Error implements the error interface.
func (e *InvalidBuildArgError) Error() string {
	return fmt.Sprintf("invalid build argument %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrInvalidBuildArg for errors.Is() compatibility.
func (e *InvalidBuildArgError) Unwrap() error { return ErrInvalidBuildArg }

// Error implements the error interface.
func (e *UnpinnedBaseImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("base image %q: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("base image %q is not pinned to a digest", e.Ref)
}

// Unwrap returns ErrUnpinnedBaseImage for errors.Is() compatibility.
func (e *UnpinnedBaseImageError) Unwrap() error { return ErrUnpinnedBaseImage }

// Validate checks argument uniqueness and base image pinning.
func (p Params) Validate() error {
	seen := make(map[string]bool, len(p.Args))
	for _, arg := range p.Args {
		if strings.TrimSpace(arg.Name) == "" {
			return &InvalidBuildArgError{Name: arg.Name, Reason: "name must be non-empty"}
		}
		if seen[arg.Name] {
			return &InvalidBuildArgError{Name: arg.Name, Reason: "name declared twice"}
		}
		seen[arg.Name] = true
	}

	for _, ref := range p.BaseImages {
		if err := validatePinnedRef(ref); err != nil {
			return err
		}
	}
	return nil
}

// validatePinnedRef requires ref to parse as a named reference carrying a digest.
func validatePinnedRef(ref string) error {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return &UnpinnedBaseImageError{Ref: ref, Err: err}
	}
	if _, ok := named.(reference.Digested); !ok {
		return &UnpinnedBaseImageError{Ref: ref}
	}
	return nil
}
