// SPDX-License-Identifier: MPL-2.0

package cas

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cnabforge/cnabforge/internal/daemon"
)

// fakeClient is an in-memory daemon.Client. Tags map to image IDs the way the
// real daemon's local store behaves: append-only, idempotent creation.
type fakeClient struct {
	mu sync.Mutex

	tags   map[string]daemon.ImageID
	builds int

	// queryErr, when set, makes QueryTag fail (daemon down during resolve).
	queryErr error
	// buildErr, when set, makes Build fail.
	buildErr error
	// buildDelay lets concurrency tests hold builds open.
	buildStarted chan struct{}
	buildRelease chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{tags: make(map[string]daemon.ImageID)}
}

func (f *fakeClient) Name() string    { return "fake" }
func (f *fakeClient) Available() bool { return true }

func (f *fakeClient) Version(context.Context) (string, error) { return "0.0-fake", nil }

func (f *fakeClient) QueryTag(_ context.Context, ref string) (daemon.ImageID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return "", false, f.queryErr
	}
	id, ok := f.tags[ref]
	return id, ok, nil
}

func (f *fakeClient) Build(ctx context.Context, req daemon.BuildRequest) (daemon.ImageID, error) {
	f.mu.Lock()
	started := f.buildStarted
	release := f.buildRelease
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return "", f.buildErr
	}
	f.builds++
	id := daemon.ImageID(fmt.Sprintf("sha256:fake%04d", f.builds))
	for _, tag := range req.Tags {
		f.tags[tag] = id
	}
	return id, nil
}

func (f *fakeClient) Tag(_ context.Context, id daemon.ImageID, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[ref] = id
	return nil
}

func (f *fakeClient) ResolveDigest(_ context.Context, ref string) (string, error) {
	return ref + "@sha256:0000000000000000000000000000000000000000000000000000000000000000", nil
}

func (f *fakeClient) SaveImages(_ context.Context, refs []string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range refs {
		if _, ok := f.tags[ref]; !ok {
			return errors.New("unknown reference: " + ref)
		}
	}
	return nil
}

func (f *fakeClient) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func (f *fakeClient) hasTag(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tags[ref]
	return ok
}
