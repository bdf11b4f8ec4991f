package main

import (
	"clinicaletl/internal/platform/config"

	"github.com/spf13/cobra"
)

var (
	pipelinePath string
	jsonOut      bool
)

var rootCmd = &cobra.Command{
	Use:   "clinetl",
	Short: "Migrate clinical source records into the common data model",
	Long: `clinetl runs the ETL pipeline declared in a pipeline file.

Stages run in dependency order. Every window is checkpointed, so an
interrupted or failed run resumes where it stopped. Completed stages are
skipped unless --force is given.

Database settings come from SERVICE_PGSQL_* and SERVICE_CLICKHOUSE_*.
Tuning comes from CORE_ETL_*; flags override it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	etl := config.New().Prefix("CORE_ETL_")
	rootCmd.PersistentFlags().StringVar(&pipelinePath, "pipeline", etl.MayString("PIPELINE", "pipeline.yaml"), "Pipeline file (default from CORE_ETL_PIPELINE)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON instead of a table")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(unmappedCmd)
}
