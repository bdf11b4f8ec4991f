package main

import (
	"fmt"
	"io"
	"strconv"

	progressdomain "clinicaletl/internal/services/progress/domain"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stage checkpoints and progress",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	rep, err := s.app.Progress.Service().Report(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), rep)
	}
	printStatus(cmd.OutOrStdout(), rep)
	return nil
}

func printStatus(w io.Writer, rep progressdomain.Report) {
	rows := make([][]string, 0, len(rep.Stages))
	for _, sp := range rep.Stages {
		errMsg := ""
		if sp.ErrorMessage.Valid {
			errMsg = truncate(sp.ErrorMessage.String, 60)
		}
		rows = append(rows, []string{
			sp.Stage,
			string(sp.Status),
			fmt.Sprintf("%.1f%%", sp.Percent),
			strconv.FormatInt(sp.RowsProcessed, 10),
			strconv.FormatInt(sp.RowErrors, 10),
			strconv.Itoa(sp.Attempts),
			errMsg,
		})
	}
	printTable(w, []string{"stage", "status", "progress", "rows", "row errors", "attempts", "error"}, rows)
	fmt.Fprintf(w, "overall %.1f%%\n", rep.Percent)
}
