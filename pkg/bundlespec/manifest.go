// SPDX-License-Identifier: MPL-2.0

package bundlespec

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opencontainers/go-digest"
)

// CNABSchemaVersion is the schema version stamped into emitted CNAB documents.
const CNABSchemaVersion = "v1.1.0"

type (
	// ComponentResult is one fully resolved component: its content
	// fingerprint and the concrete image that satisfies it. A result is only
	// recorded once the image exists in the daemon's store, so the manifest
	// never carries unresolved or mutable references.
	ComponentResult struct {
		// Name is the component name.
		Name string `json:"name"`
		// Fingerprint is the content fingerprint the image was resolved or
		// built for.
		Fingerprint digest.Digest `json:"fingerprint"`
		// Ref is the fingerprint-derived image reference.
		Ref string `json:"image"`
		// ImageID is the daemon-assigned image identity.
		ImageID string `json:"imageID"`
		// Outcome records whether the image came from the cache ("hit") or a
		// fresh build ("miss").
		Outcome string `json:"outcome"`
	}

	// ComponentFailure records why a component produced no image.
	ComponentFailure struct {
		// Name is the component name.
		Name string `json:"name"`
		// Reason is the human-readable failure description.
		Reason string `json:"reason"`
	}

	// Manifest is the outcome of a bundle build: every resolved component by
	// name plus a structured record of every failure. A partial result is
	// always explicit: failed components appear in Failures, never as
	// placeholder entries in Components.
	Manifest struct {
		Name            string                     `json:"name"`
		Version         string                     `json:"version"`
		Description     string                     `json:"description,omitempty"`
		InvocationImage string                     `json:"invocationImage"`
		Components      map[string]ComponentResult `json:"components"`
		Failures        []ComponentFailure         `json:"failures,omitempty"`
	}

	// CNABImage is an image entry in a CNAB bundle document.
	CNABImage struct {
		ImageType     string `json:"imageType"`
		Image         string `json:"image"`
		ContentDigest string `json:"contentDigest,omitempty"`
		Description   string `json:"description,omitempty"`
	}

	// CNABBundle is the CNAB-style bundle document handed to packaging.
	CNABBundle struct {
		SchemaVersion    string               `json:"schemaVersion"`
		Name             string               `json:"name"`
		Version          string               `json:"version"`
		Description      string               `json:"description,omitempty"`
		InvocationImages []CNABImage          `json:"invocationImages"`
		Images           map[string]CNABImage `json:"images,omitempty"`
	}
)

// Complete reports whether every component resolved.
func (m *Manifest) Complete() bool {
	return len(m.Failures) == 0
}

// ImageRefs returns the resolved image references sorted by component name.
func (m *Manifest) ImageRefs() []string {
	names := make([]string, 0, len(m.Components))
	for name := range m.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	refs := make([]string, len(names))
	for i, name := range names {
		refs[i] = m.Components[name].Ref
	}
	return refs
}

// ToCNAB assembles the CNAB bundle document. It refuses to emit a document
// for an incomplete manifest: a bundle that references missing images is
// worse than no bundle.
func (m *Manifest) ToCNAB() (*CNABBundle, error) {
	if !m.Complete() {
		return nil, fmt.Errorf("manifest is incomplete: %d component(s) failed", len(m.Failures))
	}

	invocation, ok := m.Components[m.InvocationImage]
	if !ok {
		return nil, fmt.Errorf("manifest has no result for invocation image component %q", m.InvocationImage)
	}

	doc := &CNABBundle{
		SchemaVersion: CNABSchemaVersion,
		Name:          m.Name,
		Version:       m.Version,
		Description:   m.Description,
		InvocationImages: []CNABImage{{
			ImageType:     "docker",
			Image:         invocation.Ref,
			ContentDigest: invocation.Fingerprint.String(),
		}},
	}

	for name, result := range m.Components {
		if name == m.InvocationImage {
			continue
		}
		if doc.Images == nil {
			doc.Images = make(map[string]CNABImage)
		}
		doc.Images[name] = CNABImage{
			ImageType:     "docker",
			Image:         result.Ref,
			ContentDigest: result.Fingerprint.String(),
		}
	}
	return doc, nil
}

// MarshalIndent renders the CNAB document as indented JSON for bundle.json.
func (b *CNABBundle) MarshalIndent() ([]byte, error) {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize CNAB bundle: %w", err)
	}
	return append(raw, '\n'), nil
}
