// SPDX-License-Identifier: MPL-2.0

package cas

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/cnabforge/cnabforge/internal/daemon"
)

// Resolver answers "does an equivalent image already exist?" for a
// fingerprint. The query runs purely against the daemon's tag namespace;
// no build context is ever transmitted, which is the point of fingerprinting
// client-side before any daemon interaction.
type Resolver struct {
	client daemon.Client
}

// NewResolver creates a Resolver backed by the given daemon client.
func NewResolver(client daemon.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve looks up the cache tag derived from fp in the given repository.
// A nil handle with a nil error is a clean negative. An unreachable daemon is
// returned as-is so the caller can decide whether to treat it as a miss; it is
// never silently swallowed here.
func (r *Resolver) Resolve(ctx context.Context, repository string, fp digest.Digest) (*ImageHandle, error) {
	ref := Ref(repository, fp)

	id, found, err := r.client.QueryTag(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	return &ImageHandle{Fingerprint: fp, ID: id, Ref: ref}, nil
}
