package main

import (
	"errors"
	"fmt"
	"io"

	orchdomain "clinicaletl/internal/services/orchestrator/domain"
)

const (
	exitOK        = 0
	exitSetup     = 1
	exitAudit     = 2
	exitStageBase = 10
	exitStageMax  = 125
)

// stageFailure carries the stage a failed run is reported under
type stageFailure struct{ f orchdomain.Failure }

func (e *stageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.f.Stage, e.f.Message)
}

type auditMismatch struct{ entity string }

func (e *auditMismatch) Error() string {
	return fmt.Sprintf("audit: %s surrogates are inconsistent", e.entity)
}

// exitCode prints err to w and maps it to the process exit code. A failed
// stage exits with 10 plus its declared index
func exitCode(err error, w io.Writer) int {
	if err == nil {
		return exitOK
	}
	var sf *stageFailure
	if errors.As(err, &sf) {
		last := sf.f.LastWindow
		if last == "" {
			last = "none"
		}
		fmt.Fprintf(w, "clinetl: stage %s failed: %s (last window %s)\n", sf.f.Stage, sf.f.Message, last)
		return min(exitStageBase+max(sf.f.Index, 0), exitStageMax)
	}
	fmt.Fprintf(w, "clinetl: %v\n", err)
	var am *auditMismatch
	if errors.As(err, &am) {
		return exitAudit
	}
	return exitSetup
}
