package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and build the spatial index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.EnsureSpatialIndex(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
