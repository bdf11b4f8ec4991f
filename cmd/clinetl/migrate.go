package main

import (
	"fmt"
	"io"

	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/platform/store"
	"clinicaletl/internal/platform/store/migrate"

	"github.com/spf13/cobra"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the control table schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrateWith(cmd.OutOrStdout(), migrate.Up)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrateWith(cmd.OutOrStdout(), func(dsn string) (migrate.Status, error) {
			return migrate.Down(dsn, migrateSteps)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrateWith(cmd.OutOrStdout(), migrate.Version)
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "Migrations to roll back, 0 for all")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func migrateWith(w io.Writer, fn func(dsn string) (migrate.Status, error)) error {
	cfg, err := store.FromConfig(config.New(), "cli")
	if err != nil {
		return err
	}
	st, err := fn(cfg.PG.URL)
	if err != nil {
		return err
	}
	printMigration(w, st)
	return nil
}

func printMigration(w io.Writer, st migrate.Status) {
	switch {
	case !st.Applied:
		fmt.Fprintln(w, "schema not initialized")
	case st.Dirty:
		fmt.Fprintf(w, "schema version %d (dirty)\n", st.Version)
	default:
		fmt.Fprintf(w, "schema version %d\n", st.Version)
	}
}
