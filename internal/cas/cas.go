// SPDX-License-Identifier: MPL-2.0

// Package cas implements the content-addressable image cache: deriving cache
// tags from content fingerprints, resolving fingerprints against the build
// daemon's store without transmitting the context, and building-and-tagging on
// a miss. The daemon's tag namespace is the cache; this package only ever
// creates tags, it never retargets or deletes one.
package cas

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/cnabforge/cnabforge/internal/daemon"
)

const (
	// TagPrefix marks fingerprint-derived cache tags. Changing the
	// fingerprint algorithm must change this prefix too, since old tags would
	// silently satisfy new fingerprints otherwise.
	TagPrefix = "cas-"

	// OutcomeHit means an equivalent image already existed.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means the image had to be built.
	OutcomeMiss Outcome = "miss"
)

type (
	// Outcome reports whether an Ensure call was served from the cache.
	Outcome string

	// ImageHandle references a concrete, already-materialized image together
	// with the fingerprint that produced it. Created once per distinct
	// fingerprint and immutable thereafter; the image itself lives in the
	// daemon's store and outlives the process.
	ImageHandle struct {
		// Fingerprint is the content fingerprint this image was built from.
		Fingerprint digest.Digest
		// ID is the daemon-assigned image identity.
		ID daemon.ImageID
		// Ref is the fingerprint-derived cache reference ("repo:cas-<hex>").
		Ref string
	}
)

// String returns the string representation of the Outcome.
func (o Outcome) String() string { return string(o) }

// Tag derives the cache tag for a fingerprint. The mapping is deterministic
// and collision-free: the full digest hex lands in the tag.
func Tag(fp digest.Digest) string {
	return TagPrefix + fp.Encoded()
}

// Ref derives the full cache reference for a fingerprint within a repository.
func Ref(repository string, fp digest.Digest) string {
	return fmt.Sprintf("%s:%s", repository, Tag(fp))
}

// RepositoryName builds a cache repository name from a prefix and a component
// name, normalized to the lowercase character set repositories allow.
func RepositoryName(prefix, component string) string {
	name := strings.ToLower(component)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(strings.ToLower(prefix), "/") + "/" + name
}
