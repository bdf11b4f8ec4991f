package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	orchdomain "clinicaletl/internal/services/orchestrator/domain"

	"github.com/spf13/cobra"
)

var (
	runForce       bool
	runParallelism int
	runBatchSize   int64
)

var runCmd = &cobra.Command{
	Use:   "run [stage...]",
	Short: "Run the pipeline, or only the named stages",
	Long: `Run executes every stage of the pipeline, or only the named stages.

A named stage whose dependency is neither named nor already completed is
reported as blocked. Stages already completed are skipped unless --force.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "Re-run completed stages")
	runCmd.Flags().IntVar(&runParallelism, "parallelism", 0, "Stages run at once (default from CORE_ETL_PARALLELISM)")
	runCmd.Flags().Int64Var(&runBatchSize, "batch-size", 0, "Rows per window (default from the pipeline file or CORE_ETL_BATCH_SIZE)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.app.Orchestrator.Service().Run(ctx, orchdomain.Options{
		Force:       runForce,
		Parallelism: runParallelism,
		Steps:       args,
		BatchSize:   runBatchSize,
	})
	if res.RunID != "" {
		if jsonOut {
			if werr := printJSON(cmd.OutOrStdout(), res); werr != nil {
				return werr
			}
		} else {
			printRun(cmd.OutOrStdout(), res)
		}
	}
	if err != nil && res.Failure != nil {
		return &stageFailure{f: *res.Failure}
	}
	return err
}

func printRun(w io.Writer, res orchdomain.RunResult) {
	rows := make([][]string, 0, len(res.Stages))
	for _, r := range res.Stages {
		rows = append(rows, []string{
			r.Name,
			string(r.Kind),
			string(r.Outcome),
			strconv.Itoa(r.Windows),
			strconv.FormatInt(r.Counts.Read, 10),
			strconv.FormatInt(r.Counts.Inserted, 10),
			strconv.FormatInt(r.Counts.Errors, 10),
			strconv.FormatInt(r.Counts.Gaps, 10),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	printTable(w, []string{"stage", "kind", "outcome", "windows", "read", "inserted", "errors", "unmapped", "took"}, rows)
	fmt.Fprintf(w, "run %s %s in %s\n", res.RunID, res.Status, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}
