// SPDX-License-Identifier: MPL-2.0

package cas

import (
	"sync"

	"github.com/opencontainers/go-digest"
)

type (
	// inflightMap de-duplicates concurrent work on the same fingerprint within
	// one process. The first caller for a fingerprint runs the work; everyone
	// else waits and shares the result. Entries stay for the life of the map,
	// so a later caller for a completed fingerprint gets the stored handle
	// without touching the daemon again.
	//
	// This is deliberately not a distributed lock: cross-process duplicate
	// builds are a performance cost, not a correctness hazard, because cache
	// tagging is idempotent over equivalent content.
	inflightMap struct {
		mu      sync.Mutex
		entries map[digest.Digest]*inflightEntry
	}

	inflightEntry struct {
		done    chan struct{}
		handle  *ImageHandle
		outcome Outcome
		err     error
	}
)

func newInflightMap() *inflightMap {
	return &inflightMap{entries: make(map[digest.Digest]*inflightEntry)}
}

// do runs fn for fp unless another caller already is (or did). Followers block
// until the leader finishes and receive the leader's handle and error; a
// follower's outcome is always a hit, since it performed no build of its own.
func (m *inflightMap) do(fp digest.Digest, fn func() (*ImageHandle, Outcome, error)) (*ImageHandle, Outcome, error) {
	m.mu.Lock()
	if e, ok := m.entries[fp]; ok {
		m.mu.Unlock()
		<-e.done
		if e.err != nil {
			return nil, "", e.err
		}
		return e.handle, OutcomeHit, nil
	}

	e := &inflightEntry{done: make(chan struct{})}
	m.entries[fp] = e
	m.mu.Unlock()

	e.handle, e.outcome, e.err = fn()
	close(e.done)

	if e.err != nil {
		// The failure stays recorded for the rest of the run: identical
		// inputs would fail identically, so re-running fn could only waste a
		// build.
		return nil, "", e.err
	}
	return e.handle, e.outcome, nil
}
