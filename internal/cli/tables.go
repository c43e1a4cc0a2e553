package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dlmelendez/identityazuretable-sub001/internal/app"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
)

func newTablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Manage the identity tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create the configured tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			names, err := a.CreateTables(cmd.Context())
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "table %s ready\n", n)
			}
			return err
		},
	})
	return cmd
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write sample users and roles into the source tables",
		Long: `Seed writes sample records keyed with a legacy scheme into the source
tables, for trying a migration against a scratch store.

Example usage:
  idtable seed --users 2500 --roles admin,ops --scheme uri`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			users, _ := cmd.Flags().GetInt("users")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			schemeName, _ := cmd.Flags().GetString("scheme")
			legacy, err := keys.New(schemeName)
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.CreateTables(cmd.Context()); err != nil {
				return err
			}
			n, err := a.Seed(cmd.Context(), legacy, users, roles)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows (%s keys, %d users, roles %s)\n", n, legacy.Name(), users, strings.Join(roles, ","))
			return err
		},
	}
	cmd.Flags().Int("users", 100, "users to write")
	cmd.Flags().StringSlice("roles", []string{"admin"}, "roles to write")
	cmd.Flags().String("scheme", keys.SchemeURI, "legacy key scheme the rows are written with")
	return cmd
}
