// SPDX-License-Identifier: MPL-2.0

package bundlespec

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cnabforge/cnabforge/pkg/cueschema"
)

// DefaultFileName is the conventional bundle spec file name.
const DefaultFileName = "bundle.cue"

//go:embed bundle_schema.cue
var bundleSchema string

// Load reads and validates a bundle spec file. Component context paths are
// resolved relative to the file's directory and made absolute.
func Load(path string) (*BundleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle spec at %s: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes validates bundle spec content from bytes. The path locates the
// spec for error messages and context resolution.
func LoadBytes(data []byte, path string) (*BundleSpec, error) {
	spec, err := cueschema.Decode[BundleSpec](bundleSchema, data, "#Bundle", path)
	if err != nil {
		return nil, err
	}

	absDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve bundle dir: %w", err)
	}
	spec.Dir = absDir

	for name, component := range spec.Components {
		component.Name = name
		if !filepath.IsAbs(component.Context) {
			component.Context = filepath.Join(absDir, filepath.FromSlash(component.Context))
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
