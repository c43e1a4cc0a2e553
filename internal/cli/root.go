// Package cli is the idtable command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/config"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "idtable",
		Short: "Identity table key derivation and key migration",
		Long: `idtable migrates ASP.NET identity tables stored on a partition/row-key
table store from one key scheme to another, and derives keys for inspection.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file path (or IDTABLE_CONFIG)")

	root.AddCommand(newMigrateCmd(), newKeysCmd(), newTablesCmd(), newSeedCmd())
	return root
}

// Execute runs the command line with ctx, cancelled on SIGINT/SIGTERM by
// the caller.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// loadConfig resolves, loads and defaults the config, then installs the
// logger on stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flag := cmd.Flag("config")
	path := config.ResolveConfigPath(flag.Value.String(), flag.Changed)
	explicit := flag.Changed || path != config.DefaultConfigPath

	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	level := cfg.Logging.Level
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger.InitWriter(cmd.ErrOrStderr(), level)
	logger.Debug("config_loaded", "path", path, "explicit", explicit)
	return cfg, nil
}
