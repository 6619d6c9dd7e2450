// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cnabforge/cnabforge/internal/cas"
	"github.com/cnabforge/cnabforge/internal/config"
	"github.com/cnabforge/cnabforge/internal/daemon"
	"github.com/cnabforge/cnabforge/internal/issue"
	"github.com/cnabforge/cnabforge/internal/orchestrator"
	"github.com/cnabforge/cnabforge/pkg/bundlespec"
)

var (
	buildFile        string
	buildOutput      string
	buildParallelism int
	buildRepoPrefix  string
	buildEngine      string

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build every component of a bundle and emit its manifest",
		Long: `Build every component of a bundle and emit its manifest.

Each component's build context and parameters are fingerprinted client-side.
The build daemon's tag namespace is then queried for an image carrying that
fingerprint; only a confirmed miss streams the context and builds. Independent
components build in parallel, and a failed component skips only its
dependents.

A complete build writes a CNAB-style bundle manifest (bundle.json) that
references every produced image by its fingerprint-derived tag.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd)
		},
	}
)

func init() {
	buildCmd.Flags().StringVarP(&buildFile, "file", "f", "", "bundle file (default ./"+bundlespec.DefaultFileName+")")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "manifest output path (default bundle.json next to the bundle file)")
	buildCmd.Flags().IntVarP(&buildParallelism, "parallelism", "p", 0, "max concurrent component builds (default from config)")
	buildCmd.Flags().StringVar(&buildRepoPrefix, "repository-prefix", "", "cache repository prefix (default from config, then the bundle name)")
	buildCmd.Flags().StringVar(&buildEngine, "engine", "", "build daemon: docker, podman or auto (default from config)")
}

func runBuild(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		return &ExitError{Code: 1, Err: err}
	}
	applyBuildFlags(cfg)
	logger := newLogger(cfg)

	spec, err := loadBundle(buildFile)
	if err != nil {
		return err
	}

	client, err := newDaemonClient(cfg)
	if err != nil {
		return err
	}

	orch := orchestrator.New(client, orchestrator.Options{
		Parallelism:      cfg.Parallelism,
		RepositoryPrefix: cfg.RepositoryPrefix.String(),
		Progress:         os.Stderr,
		Logger:           logger,
	})

	manifest, err := orch.BuildBundle(ctx, spec)
	if manifest != nil {
		printBuildSummary(manifest)
	}
	if err != nil {
		if errors.Is(err, orchestrator.ErrBundleIncomplete) {
			return &ExitError{Code: 1, Err: err}
		}
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		return &ExitError{Code: 1, Err: err}
	}

	outPath := buildOutput
	if outPath == "" {
		outPath = filepath.Join(spec.Dir, "bundle.json")
	}
	if err := writeManifest(manifest, outPath); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		return &ExitError{Code: 1, Err: err}
	}

	fmt.Println(SuccessStyle.Render("✓ ") + "bundle manifest written to " + RefStyle.Render(outPath))
	return nil
}

// applyBuildFlags lets build command flags override the loaded configuration.
func applyBuildFlags(cfg *config.Config) {
	if buildParallelism > 0 {
		cfg.Parallelism = buildParallelism
	}
	if buildRepoPrefix != "" {
		cfg.RepositoryPrefix = config.RepositoryPrefix(buildRepoPrefix)
	}
	if buildEngine != "" {
		cfg.Engine = config.Engine(buildEngine)
	}
}

// newDaemonClient builds the daemon client from the effective configuration.
func newDaemonClient(cfg *config.Config) (daemon.Client, error) {
	var opts []daemon.CLIClientOption
	if cfg.Daemon.BinaryPath != "" {
		opts = append(opts, daemon.WithBinaryPath(cfg.Daemon.BinaryPath.String()))
	}
	client, err := daemon.NewClient(cfg.Engine.Kind(), opts...)
	if err != nil {
		renderIssue(issue.DaemonNotFoundId)
		return nil, &ExitError{Code: 1, Err: err}
	}
	return client, nil
}

// loadBundle loads and validates the bundle file, defaulting to bundle.cue in
// the current directory.
func loadBundle(path string) (*bundlespec.BundleSpec, error) {
	if path == "" {
		path = bundlespec.DefaultFileName
	}
	if _, err := os.Stat(path); err != nil {
		renderIssue(issue.BundleNotFoundId)
		return nil, &ExitError{Code: 1, Err: fmt.Errorf("bundle file not found: %s", path)}
	}

	spec, err := bundlespec.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		return nil, &ExitError{Code: 1, Err: err}
	}
	return spec, nil
}

// printBuildSummary renders one line per component plus every failure.
func printBuildSummary(manifest *bundlespec.Manifest) {
	for _, name := range sortedComponentNames(manifest) {
		result := manifest.Components[name]
		marker := SuccessStyle.Render("hit ")
		if result.Outcome == cas.OutcomeMiss.String() {
			marker = WarningStyle.Render("miss")
		}
		fmt.Printf("%s  %-20s %s\n", marker, name, RefStyle.Render(result.Ref))
	}
	for _, failure := range manifest.Failures {
		fmt.Printf("%s  %-20s %s\n", ErrorStyle.Render("fail"), failure.Name, failure.Reason)
	}
}

func sortedComponentNames(manifest *bundlespec.Manifest) []string {
	names := make([]string, 0, len(manifest.Components))
	for name := range manifest.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// writeManifest emits the CNAB bundle document to outPath.
func writeManifest(manifest *bundlespec.Manifest, outPath string) error {
	doc, err := manifest.ToCNAB()
	if err != nil {
		return err
	}
	raw, err := doc.MarshalIndent()
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, raw, 0o644)
}

// renderIssue prints the catalog entry for id to stderr, falling back to
// nothing when rendering fails (the wrapped error still reaches the user).
func renderIssue(id issue.Id) {
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	if rendered, err := entry.Render("dark"); err == nil {
		fmt.Fprintln(os.Stderr, rendered)
	}
}
