// SPDX-License-Identifier: MPL-2.0

package cas

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/cnabforge/cnabforge/internal/daemon"
	"github.com/cnabforge/cnabforge/internal/fingerprint"
)

// Executor materializes an image after a confirmed cache miss and tags it with
// its fingerprint-derived cache tag. Build failures are deterministic given
// identical inputs, so nothing here retries; the failure is surfaced with the
// captured daemon log.
type Executor struct {
	client daemon.Client
}

// NewExecutor creates an Executor backed by the given daemon client.
func NewExecutor(client daemon.Client) *Executor {
	return &Executor{client: client}
}

// Build streams the context at contextDir to the daemon and tags the result
// with the cache tag for fp. The cache tag rides on the build invocation
// itself, so a successful build is immediately visible to subsequent cache
// queries for the same fingerprint. That is the cache-write path.
//
// If two concurrent processes both miss on the same fingerprint, both may
// build; tag creation is last-writer-wins over equivalent content, so the
// duplicate work is wasted but never incorrect.
func (e *Executor) Build(
	ctx context.Context,
	contextDir string,
	params fingerprint.Params,
	repository string,
	fp digest.Digest,
	progress io.Writer,
) (*ImageHandle, error) {
	ref := Ref(repository, fp)

	id, err := e.client.Build(ctx, daemon.BuildRequest{
		ContextDir: contextDir,
		Dockerfile: params.Dockerfile,
		Tags:       []string{ref},
		Args:       params.Args,
		Platform:   params.Platform,
		Output:     progress,
	})
	if err != nil {
		return nil, err
	}

	return &ImageHandle{Fingerprint: fp, ID: id, Ref: ref}, nil
}
