// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cnabforge/cnabforge/internal/daemon"
)

// fakeClient is an in-memory daemon.Client. Builds assign sequential image
// IDs and record their full requests; tags live in a plain map so a second
// run observes what the first one wrote.
type fakeClient struct {
	mu           sync.Mutex
	tags         map[string]daemon.ImageID
	builds       []daemon.BuildRequest
	nextID       int
	failRepos    map[string]bool
	resolved     map[string]string
	resolveCalls map[string]int

	// buildStarted receives one component tag per build start when non-nil.
	buildStarted chan string
	// buildRelease, when non-nil, blocks every build until it is closed.
	buildRelease chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tags:         make(map[string]daemon.ImageID),
		failRepos:    make(map[string]bool),
		resolved:     make(map[string]string),
		resolveCalls: make(map[string]int),
	}
}

func (f *fakeClient) Name() string    { return "fake" }
func (f *fakeClient) Available() bool { return true }

func (f *fakeClient) Version(ctx context.Context) (string, error) {
	return "99.0.0", nil
}

func (f *fakeClient) QueryTag(ctx context.Context, ref string) (daemon.ImageID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tags[ref]
	return id, ok, nil
}

func (f *fakeClient) Build(ctx context.Context, req daemon.BuildRequest) (daemon.ImageID, error) {
	f.mu.Lock()
	f.builds = append(f.builds, req)
	started := f.buildStarted
	release := f.buildRelease
	f.mu.Unlock()

	if started != nil && len(req.Tags) > 0 {
		started <- req.Tags[0]
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for repo := range f.failRepos {
		for _, tag := range req.Tags {
			if strings.HasPrefix(tag, repo+":") {
				return "", &daemon.BuildError{Log: "step 3/3 exited 1", Err: fmt.Errorf("exit status 1")}
			}
		}
	}

	f.nextID++
	id := daemon.ImageID(fmt.Sprintf("sha256:%04d", f.nextID))
	for _, tag := range req.Tags {
		f.tags[tag] = id
	}
	return id, nil
}

func (f *fakeClient) Tag(ctx context.Context, id daemon.ImageID, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[ref] = id
	return nil
}

func (f *fakeClient) ResolveDigest(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls[ref]++
	pinned, ok := f.resolved[ref]
	if !ok {
		return "", daemon.ErrNoRepoDigest
	}
	return pinned, nil
}

func (f *fakeClient) SaveImages(ctx context.Context, refs []string, outPath string) error {
	return nil
}

func (f *fakeClient) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.builds)
}

// buildRequests returns a snapshot of the recorded build requests.
func (f *fakeClient) buildRequests() []daemon.BuildRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]daemon.BuildRequest(nil), f.builds...)
}

func (f *fakeClient) hasTag(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tags[ref]
	return ok
}
