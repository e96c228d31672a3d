package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

// ErrSyncFailed is returned when the FSM could not be brought in line and
// the failure was not a mere verification mismatch.
var ErrSyncFailed = errors.New("fsm sync failed")

type outcomeView struct {
	*domain.Outcome
	Warning string `json:"warning,omitempty"`
}

// printOutcome writes the outcome and turns a hard failure into an error so
// the process exits non-zero. A soft failure only prints its warning.
func printOutcome(w io.Writer, o *domain.Outcome) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcomeView{Outcome: o, Warning: o.Warning()}); err != nil {
			return errors.Wrap(err, "encode outcome")
		}
	} else {
		writeOutcomeText(w, o)
	}

	if o.Success || o.SoftFailure() {
		return nil
	}
	return errors.Wrapf(ErrSyncFailed, "%s job %s", o.Operation, o.JobID)
}

func writeOutcomeText(w io.Writer, o *domain.Outcome) {
	jobID := o.JobID
	if jobID == "" {
		jobID = "(not created)"
	}

	switch {
	case o.Success:
		fmt.Fprintf(w, "%s %s: in sync\n", o.Operation, jobID)
	case o.SoftFailure():
		fmt.Fprintf(w, "%s %s: warning\n", o.Operation, jobID)
		fmt.Fprintf(w, "  %s\n", o.Warning())
	default:
		fmt.Fprintf(w, "%s %s: failed\n", o.Operation, jobID)
		fmt.Fprintf(w, "  %s\n", o.Error)
	}

	fmt.Fprintf(w, "  Assigned: %d\n", o.AssignedCount)
	if len(o.Missing) > 0 {
		fmt.Fprintf(w, "  Missing: %s\n", strings.Join(o.Missing, ", "))
	}
	if len(o.Stale) > 0 {
		fmt.Fprintf(w, "  Unexpected: %s\n", strings.Join(o.Stale, ", "))
	}
	if o.Operation == domain.OperationUnschedule {
		fmt.Fprintf(w, "  Unscheduled: %t\n", o.Unscheduled)
		if o.Strategy != "" {
			fmt.Fprintf(w, "  Strategy: %s\n", o.Strategy)
		}
		if o.StatusTransition != "" {
			fmt.Fprintf(w, "  Status: %s\n", o.StatusTransition)
		}
		if o.StatusError != "" {
			fmt.Fprintf(w, "  Status error: %s\n", o.StatusError)
		}
	}
	for _, warning := range o.Warnings {
		fmt.Fprintf(w, "  Note: %s\n", warning)
	}
	if verbose && len(o.Steps) > 0 {
		fmt.Fprintf(w, "  Steps: %s\n", strings.Join(o.Steps, " -> "))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "encode output")
}
