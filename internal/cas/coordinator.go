// SPDX-License-Identifier: MPL-2.0

package cas

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/cnabforge/cnabforge/internal/daemon"
	"github.com/cnabforge/cnabforge/internal/fingerprint"
)

type (
	// BuildInput is everything the coordinator needs to ensure one image
	// exists: where the context lives, what parameters shape the build, and
	// which repository holds the cache tags.
	BuildInput struct {
		// Name identifies the component for logging.
		Name string
		// ContextDir is the build context directory.
		ContextDir string
		// Ignore are exclusion patterns applied before fingerprinting.
		Ignore []string
		// Params are the build parameters folded into the fingerprint.
		Params fingerprint.Params
		// Repository is the cache repository for this component's images.
		Repository string
		// Progress receives the daemon's build output on a miss. Nil discards it.
		Progress io.Writer
	}

	// Coordinator wires fingerprinting, cache resolution and building into a
	// single "ensure this image exists" operation. Coordinators running in
	// the same process share an in-flight map so one fingerprint is never
	// built twice concurrently; beyond the daemon's store they share no
	// mutable state.
	Coordinator struct {
		client   daemon.Client
		resolver *Resolver
		executor *Executor
		inflight *inflightMap
		logger   *log.Logger
	}
)

// NewCoordinator creates a Coordinator on top of the given daemon client.
// A nil logger disables coordinator logging.
func NewCoordinator(client daemon.Client, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Coordinator{
		client:   client,
		resolver: NewResolver(client),
		executor: NewExecutor(client),
		inflight: newInflightMap(),
		logger:   logger,
	}
}

// Ensure guarantees an image equivalent to the given input exists and returns
// its handle. Sequence: fingerprint client-side, probe the daemon's tag
// namespace, and only on a confirmed miss stream the context and build.
//
// An unreachable daemon during the resolve step is logged and treated as a
// miss. The build that follows will surface the connectivity problem if it
// persists, so nothing is masked.
//
// When another component in the same run already materialized this
// fingerprint under a different repository, the image is retagged into this
// input's repository instead of being rebuilt. The returned handle always
// references in.Repository.
func (c *Coordinator) Ensure(ctx context.Context, in BuildInput) (*ImageHandle, Outcome, error) {
	fp, err := fingerprint.Fingerprint(in.ContextDir, in.Ignore, in.Params)
	if err != nil {
		return nil, "", err
	}

	handle, outcome, err := c.inflight.do(fp, func() (*ImageHandle, Outcome, error) {
		handle, err := c.resolver.Resolve(ctx, in.Repository, fp)
		switch {
		case err == nil && handle != nil:
			c.logger.Info("cache hit", "component", in.Name, "ref", handle.Ref)
			return handle, OutcomeHit, nil
		case errors.Is(err, daemon.ErrDaemonUnreachable):
			c.logger.Warn("cache query failed, assuming miss",
				"component", in.Name, "err", err)
		case err != nil:
			return nil, "", err
		}

		c.logger.Info("cache miss, building", "component", in.Name, "fingerprint", fp.Encoded())
		handle, err = c.executor.Build(ctx, in.ContextDir, in.Params, in.Repository, fp, in.Progress)
		if err != nil {
			return nil, "", err
		}
		c.logger.Info("built", "component", in.Name, "ref", handle.Ref, "id", handle.ID)
		return handle, OutcomeMiss, nil
	})
	if err != nil {
		return nil, "", err
	}
	if want := Ref(in.Repository, fp); handle.Ref != want {
		// Another component resolved or built this fingerprint first, under
		// its own repository. The content is identical, so tagging the same
		// image into this repository completes the cache-write path here and
		// keeps the returned handle repository-local.
		if err := c.client.Tag(ctx, handle.ID, want); err != nil {
			return nil, "", err
		}
		c.logger.Info("cache shared", "component", in.Name, "ref", want, "id", handle.ID)
		handle = &ImageHandle{Fingerprint: fp, ID: handle.ID, Ref: want}
	}
	return handle, outcome, nil
}
