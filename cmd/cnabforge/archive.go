// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cnabforge/cnabforge/internal/issue"
	"github.com/cnabforge/cnabforge/internal/orchestrator"
	"github.com/cnabforge/cnabforge/pkg/bundlespec"
	"github.com/cnabforge/cnabforge/pkg/types"
)

var (
	archiveFile   string
	archiveOutput string

	archiveCmd = &cobra.Command{
		Use:   "archive",
		Short: "Build a bundle and export its images as a tarball",
		Long: `Build a bundle and export its images as a tarball.

The bundle is built first (cached components resolve without building), then
every manifest image is saved through the daemon into a single tar archive
suitable for offline transfer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd)
		},
	}
)

func init() {
	archiveCmd.Flags().StringVarP(&archiveFile, "file", "f", "", "bundle file (default ./"+bundlespec.DefaultFileName+")")
	archiveCmd.Flags().StringVarP(&archiveOutput, "output", "o", "", "tarball output path (default <bundle name>.tar)")
	_ = archiveCmd.MarkFlagFilename("output", "tar")
}

func runArchive(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		return &ExitError{Code: 1, Err: err}
	}
	logger := newLogger(cfg)

	spec, err := loadBundle(archiveFile)
	if err != nil {
		return err
	}

	outPath := types.FilesystemPath(archiveOutput)
	if outPath == "" {
		outPath = types.FilesystemPath(spec.Name + ".tar")
	}
	if ok, errs := outPath.IsValid(); !ok {
		return &ExitError{Code: 1, Err: errs[0]}
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
		return &ExitError{Code: 1, Err: err}
	}

	if err := orch.Archive(ctx, manifest, outPath.String()); err != nil {
		renderIssue(issue.ArchiveFailedId)
		return &ExitError{Code: 1, Err: err}
	}

	fmt.Println(SuccessStyle.Render("✓ ") + "images exported to " + RefStyle.Render(outPath.String()))
	return nil
}
