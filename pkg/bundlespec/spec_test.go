// SPDX-License-Identifier: MPL-2.0

package bundlespec

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

const validBundle = `
name:            "shop"
version:         "1.2.0"
description:     "demo shop"
invocationImage: "installer"

components: {
	base: {
		context: "./base"
	}
	web: {
		context: "./web"
		args: {PORT: "8080"}
		requires: {base: "BASE_IMAGE"}
	}
	installer: {
		context:    "./installer"
		dockerfile: "Dockerfile.cnab"
		requires: {web: "WEB_IMAGE"}
	}
}
`

func TestLoadBytes_Valid(t *testing.T) {
	t.Parallel()

	spec, err := LoadBytes([]byte(validBundle), "/bundles/shop/bundle.cue")
	if err != nil {
		t.Fatalf("LoadBytes() error: %v", err)
	}

	if spec.Name != "shop" || spec.Version != "1.2.0" {
		t.Errorf("bundle identity = %s/%s", spec.Name, spec.Version)
	}
	if spec.InvocationImage != "installer" {
		t.Errorf("invocationImage = %q", spec.InvocationImage)
	}
	if len(spec.Components) != 3 {
		t.Fatalf("expected 3 components, got %d", len(spec.Components))
	}

	web := spec.Components["web"]
	if web.Name != "web" {
		t.Errorf("component name not backfilled: %q", web.Name)
	}
	if !filepath.IsAbs(web.Context) || !strings.HasSuffix(filepath.ToSlash(web.Context), "bundles/shop/web") {
		t.Errorf("context not resolved against the bundle dir: %q", web.Context)
	}
	if web.Requires["base"] != "BASE_IMAGE" {
		t.Errorf("requires = %v", web.Requires)
	}
}

func TestLoadBytes_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{"missing name", `version: "1", invocationImage: "a", components: {a: {context: "./a"}}`},
		{"empty context", `name: "x", version: "1", invocationImage: "a", components: {a: {context: ""}}`},
		{"bad component name", `name: "x", version: "1", invocationImage: "a", components: {"1bad": {context: "./a"}}`},
		{"empty requires arg", `name: "x", version: "1", invocationImage: "a", components: {a: {context: "./a", requires: {b: ""}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadBytes([]byte(tt.src), "bundle.cue"); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadBytes_UnknownInvocationImage(t *testing.T) {
	t.Parallel()

	src := `name: "x", version: "1", invocationImage: "nope", components: {a: {context: "./a"}}`
	_, err := LoadBytes([]byte(src), "bundle.cue")
	if !errors.Is(err, ErrUnknownComponent) {
		t.Errorf("expected ErrUnknownComponent, got %v", err)
	}
}

func TestLoadBytes_UnknownRequiresTarget(t *testing.T) {
	t.Parallel()

	src := `name: "x", version: "1", invocationImage: "a",
components: {a: {context: "./a", requires: {ghost: "GHOST_IMAGE"}}}`
	_, err := LoadBytes([]byte(src), "bundle.cue")
	if !errors.Is(err, ErrUnknownComponent) {
		t.Errorf("expected ErrUnknownComponent, got %v", err)
	}
}

func TestLoadBytes_SelfDependency(t *testing.T) {
	t.Parallel()

	src := `name: "x", version: "1", invocationImage: "a",
components: {a: {context: "./a", requires: {a: "SELF"}}}`
	_, err := LoadBytes([]byte(src), "bundle.cue")
	if !errors.Is(err, ErrInvalidBundleSpec) {
		t.Errorf("expected ErrInvalidBundleSpec, got %v", err)
	}
}

func TestOrderedArgs_Canonical(t *testing.T) {
	t.Parallel()

	c := &ComponentSpec{Args: map[string]string{"ZED": "1", "ALPHA": "2", "MID": "3"}}
	args := c.OrderedArgs()

	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	for i := 1; i < len(args); i++ {
		if args[i-1].Name >= args[i].Name {
			t.Errorf("args not in canonical order: %v", args)
		}
	}
}
