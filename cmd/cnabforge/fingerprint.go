// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/cnabforge/cnabforge/internal/cas"
	"github.com/cnabforge/cnabforge/internal/daemon"
	"github.com/cnabforge/cnabforge/internal/fingerprint"
	"github.com/cnabforge/cnabforge/pkg/bundlespec"
)

var (
	fingerprintFile string

	fingerprintCmd = &cobra.Command{
		Use:   "fingerprint [component...]",
		Short: "Print component content fingerprints and cache tags",
		Long: `Print component content fingerprints and cache tags.

The fingerprint covers the component's context tree (paths, modes, symlink
targets and file contents) and its declared build parameters. It does not
cover dependency-injected arguments: those are resolved only during a build,
because they embed the dependency's own fingerprint.

Base images declared with mutable tags are pinned through the build daemon
when one is reachable; without a daemon such components cannot be
fingerprinted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFingerprint(cmd.Context(), args)
		},
	}
)

func init() {
	fingerprintCmd.Flags().StringVarP(&fingerprintFile, "file", "f", "", "bundle file (default ./"+bundlespec.DefaultFileName+")")
}

func runFingerprint(ctx context.Context, args []string) error {
	spec, err := loadBundle(fingerprintFile)
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = spec.ComponentNames()
	}

	// The daemon is only needed for pinning mutable base refs, so its
	// absence is tolerated until a component actually requires it.
	client, clientErr := daemon.NewClient(daemon.KindAuto)

	var failed bool
	for _, name := range names {
		component, ok := spec.Components[name]
		if !ok {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+
				(&bundlespec.UnknownComponentError{Component: name}).Error())
			failed = true
			continue
		}

		fp, err := componentFingerprint(ctx, client, clientErr, component)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", ErrorStyle.Render("fail"), name, err)
			failed = true
			continue
		}
		fmt.Printf("%-20s %s  %s\n", name, fp, RefStyle.Render(cas.Tag(fp)))
	}

	if failed {
		return &ExitError{Code: 1}
	}
	return nil
}

// componentFingerprint computes one component's standalone fingerprint,
// pinning mutable base refs through the daemon when needed.
func componentFingerprint(ctx context.Context, client daemon.Client, clientErr error, component *bundlespec.ComponentSpec) (digest.Digest, error) {
	bases := make([]string, 0, len(component.BaseImages))
	for _, ref := range component.BaseImages {
		pinned, err := pinRef(ctx, client, clientErr, ref)
		if err != nil {
			return "", err
		}
		bases = append(bases, pinned)
	}

	return fingerprint.Fingerprint(component.Context, component.Ignore, fingerprint.Params{
		Args:       component.OrderedArgs(),
		Dockerfile: component.Dockerfile,
		Platform:   component.Platform,
		BaseImages: bases,
	})
}

// pinRef pins a base image reference to its digest form, passing
// already-pinned references through untouched.
func pinRef(ctx context.Context, client daemon.Client, clientErr error, ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", err
	}
	if _, ok := named.(reference.Digested); ok {
		return ref, nil
	}
	if clientErr != nil {
		return "", fmt.Errorf("pin base image %q: %w", ref, clientErr)
	}
	return client.ResolveDigest(ctx, ref)
}
