// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cnabforge/cnabforge/internal/config"
	"github.com/cnabforge/cnabforge/internal/issue"
)

// configCmd is the `cnabforge config` command tree.
var configCmd = func() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cnabforge configuration",
		Long: `Manage cnabforge configuration.

Configuration is stored in:
  - Linux: ~/.config/cnabforge/config.cue
  - macOS: ~/Library/Application Support/cnabforge/config.cue
  - Windows: %APPDATA%\cnabforge\config.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context())
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath()
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(cmd.Context(), args[0], args[1])
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output raw configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Print(config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}()

func showConfig(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		renderIssue(issue.ConfigLoadFailedId)
		return err
	}

	keyStyle := RefStyle
	valueStyle := SuccessStyle

	fmt.Println(TitleStyle.Render("Current Configuration"))
	fmt.Println()

	if cfgDir, dirErr := config.ConfigDir(); dirErr == nil {
		cfgPath := filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt)
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			fmt.Printf("%s: %s\n", keyStyle.Render("Config file"), cfgPath)
		} else {
			fmt.Printf("%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
		}
	}
	fmt.Println()

	fmt.Printf("%s: %s\n", keyStyle.Render("engine"), valueStyle.Render(cfg.Engine.String()))
	fmt.Printf("%s: %s\n", keyStyle.Render("parallelism"), valueStyle.Render(strconv.Itoa(cfg.Parallelism)))
	if cfg.RepositoryPrefix != "" {
		fmt.Printf("%s: %s\n", keyStyle.Render("repository_prefix"), valueStyle.Render(cfg.RepositoryPrefix.String()))
	} else {
		fmt.Printf("%s: %s\n", keyStyle.Render("repository_prefix"), SubtitleStyle.Render("(bundle name)"))
	}

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("daemon"))
	if cfg.Daemon.BinaryPath != "" {
		fmt.Printf("  binary_path: %s\n", valueStyle.Render(cfg.Daemon.BinaryPath.String()))
	} else {
		fmt.Printf("  binary_path: %s\n", SubtitleStyle.Render("(auto-detected)"))
	}

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("ui"))
	fmt.Printf("  color_scheme: %s\n", valueStyle.Render(cfg.UI.ColorScheme.String()))
	fmt.Printf("  verbose: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.UI.Verbose)))

	return nil
}

func initConfig() error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	if err = config.CreateDefaultConfig(); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Printf("%s Created default configuration at %s\n",
		SuccessStyle.Render("✓"), filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
	return nil
}

func showConfigPath() error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	fmt.Printf("Config directory: %s\n", cfgDir)
	fmt.Printf("Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
	return nil
}

func setConfigValue(ctx context.Context, key, value string) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	switch key {
	case "engine":
		cfg.Engine = config.Engine(value)
	case "parallelism":
		n, convErr := strconv.Atoi(value)
		if convErr != nil {
			return fmt.Errorf("parallelism must be an integer: %w", convErr)
		}
		cfg.Parallelism = n
	case "repository_prefix":
		cfg.RepositoryPrefix = config.RepositoryPrefix(value)
	case "daemon.binary_path":
		cfg.Daemon.BinaryPath = config.BinaryFilePath(value)
	case "ui.color_scheme":
		cfg.UI.ColorScheme = config.ColorScheme(value)
	case "ui.verbose":
		b, convErr := strconv.ParseBool(value)
		if convErr != nil {
			return fmt.Errorf("ui.verbose must be a boolean: %w", convErr)
		}
		cfg.UI.Verbose = b
	default:
		return fmt.Errorf("unknown configuration key %q", key)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}

	fmt.Printf("%s Set %s = %s\n", SuccessStyle.Render("✓"), key, value)
	return nil
}
