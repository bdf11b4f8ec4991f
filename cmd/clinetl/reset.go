package main

import (
	"fmt"

	perr "clinicaletl/internal/platform/errors"

	"github.com/spf13/cobra"
)

var (
	resetStage string
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget checkpoints so stages run from scratch",
	Long: `Reset wipes every checkpoint, window, snapshot total, row error and
mapping table, and rewrites the checkpoint file. With --stage only that
stage's checkpoint and windows are dropped; mappings are kept.

Target tables are not truncated.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetStage, "stage", "", "Reset only this stage")
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm the reset")
}

func runReset(cmd *cobra.Command, _ []string) error {
	if !resetYes {
		return perr.WithField(perr.InvalidArgf("reset needs --yes"), "yes")
	}
	ctx := cmd.Context()
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	orch := s.app.Orchestrator.Service()
	if resetStage != "" {
		if err := orch.ResetStage(ctx, resetStage); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stage %s reset\n", resetStage)
		return nil
	}
	if err := orch.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "all stages reset")
	return nil
}
