// SPDX-License-Identifier: MPL-2.0

// Package fingerprint derives a deterministic content fingerprint from a build
// context file tree and a set of build parameters. The fingerprint is the
// identity the whole build cache keys on: identical inputs must yield
// bit-identical fingerprints on any machine at any time, so every volatile
// input (timestamps, absolute paths, iteration order) is normalized away
// before hashing.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opencontainers/go-digest"
)

type (
	// canonicalEntry is the serialized form of one context entry.
	canonicalEntry struct {
		Digest digest.Digest `json:"digest,omitempty"`
		Mode   string        `json:"mode,omitempty"`
		Link   string        `json:"link,omitempty"`
	}

	// canonicalInvocation is the document actually hashed. encoding/json
	// emits map keys in sorted order and slices in declaration order, which
	// together with the sorted context entries makes the serialization
	// canonical.
	canonicalInvocation struct {
		Files      map[string]canonicalEntry `json:"files"`
		Args       [][2]string               `json:"args"`
		Dockerfile string                    `json:"dockerfile,omitempty"`
		Platform   string                    `json:"platform,omitempty"`
		BaseImages []string                  `json:"baseImages,omitempty"`
		Builder    string                    `json:"builder,omitempty"`
		Features   []string                  `json:"features,omitempty"`
	}
)

// Compute derives the ContentFingerprint for an already-loaded Context and its
// Params. It is pure: no filesystem access happens here, so calling it twice
// with the same inputs always yields the same digest.
func Compute(c *Context, p Params) (digest.Digest, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	files := make(map[string]canonicalEntry, len(c.Entries))
	for _, entry := range c.Entries {
		ce := canonicalEntry{}
		if entry.Symlink {
			ce.Link = entry.Target
		} else {
			ce.Digest = entry.Digest
			ce.Mode = fmt.Sprintf("%04o", entry.Mode)
		}
		files[entry.Path] = ce
	}

	args := make([][2]string, len(p.Args))
	for i, arg := range p.Args {
		args[i] = [2]string{arg.Name, arg.Value}
	}

	// Feature flags are a set; order must not affect identity.
	features := append([]string(nil), p.Features...)
	sort.Strings(features)

	doc := canonicalInvocation{
		Files:      files,
		Args:       args,
		Dockerfile: p.Dockerfile,
		Platform:   p.Platform,
		BaseImages: p.BaseImages,
		Builder:    p.BuilderVersion,
		Features:   features,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("serialize build invocation: %w", err)
	}
	return digest.FromBytes(raw), nil
}

// Fingerprint loads the context at root, applies the ignore patterns and
// computes the fingerprint in one step. It fails with a ContextUnreadableError
// when any included file cannot be read.
func Fingerprint(root string, ignore []string, p Params) (digest.Digest, error) {
	c, err := LoadContext(root, ignore)
	if err != nil {
		return "", err
	}
	return Compute(c, p)
}
