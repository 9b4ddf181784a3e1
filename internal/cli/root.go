package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0x6d61/xssprobe/internal/config"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// NewRootCmd builds the full command tree. Every call returns fresh
// commands, so flag state never leaks between executions.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xssprobe",
		Short: "Reflected and DOM-based XSS probe engine",
		Long: `xssprobe - Reflected and DOM-based XSS probe engine

Discovers the injection points of a page, classifies where each one is
reflected, and probes it with context-aware payload variants. Verdicts are
scored from the evidence found in the responses.

WARNING: Use this tool only against systems you have explicit permission to test.
Unauthorized access to computer systems is illegal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Configuration file (YAML)")
	root.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().IntP("verbose", "v", 0, "Verbosity level (0-2)")

	root.AddCommand(newScanCmd(), newConfigCmd(), newSessionsCmd(), newVersionCmd())
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads --config over the defaults and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logger.Level = level
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xssprobe %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Long: `Writes the default configuration as YAML to path, or to stdout when no
path is given. An existing file is never overwritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewDefaultConfig()
			if len(args) == 0 {
				return config.Write(cmd.OutOrStdout(), cfg)
			}
			if err := config.WriteFile(args[0], cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[*] Wrote default configuration to %s\n", args[0])
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Prints the configuration after applying the file given with --config and
XSSPROBE_* environment overrides.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return config.Write(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
