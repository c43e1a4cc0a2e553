package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect key derivation",
	}
	cmd.AddCommand(newKeysDeriveCmd())
	return cmd
}

func newKeysDeriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive --kind <kind> values...",
		Short: "Print the key a value maps to",
		Long: `Derive prints the partition or row key the given values map to under a
scheme. Kinds: ` + strings.Join(keys.DeriveKinds(), ", ") + `

Example usage:
  idtable keys derive --kind email someone@example.com
  idtable keys derive --scheme sha1 --kind login github 12345
  idtable keys derive --kind roleclaim admin perm write`,
		RunE: runKeysDerive,
	}
	cmd.Flags().String("scheme", "", "key scheme (default from config)")
	cmd.Flags().Float64("key-version", 0, "override the scheme's key version")
	cmd.Flags().String("kind", "", "key kind")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func runKeysDerive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("scheme") {
		cfg.Keys.Scheme, _ = cmd.Flags().GetString("scheme")
	}
	if cmd.Flags().Changed("key-version") {
		cfg.Keys.Version, _ = cmd.Flags().GetFloat64("key-version")
	}
	s, err := cfg.Scheme()
	if err != nil {
		return err
	}
	kind, _ := cmd.Flags().GetString("kind")
	key, err := keys.Derive(s, kind, args...)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}
