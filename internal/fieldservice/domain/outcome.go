package domain

import (
	"github.com/cockroachdb/errors"
)

// Operation names the engine entry point that produced an outcome.
type Operation string

const (
	OperationCreate     Operation = "create"
	OperationReschedule Operation = "reschedule"
	OperationReconcile  Operation = "reconcile"
	OperationUnschedule Operation = "unschedule"
)

// Outcome is the result of a reconciliation or unschedule run. It is returned
// as data even on failure so callers can keep a locally committed change and
// show a warning instead.
type Outcome struct {
	JobID     string    `json:"job_id"`
	Operation Operation `json:"operation"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Err       error     `json:"-"`

	Missing       []string `json:"missing,omitempty"`
	Stale         []string `json:"stale,omitempty"`
	AssignedCount int      `json:"assigned_count"`
	Unscheduled   bool     `json:"unscheduled"`

	// Strategy is the clear-schedule mechanism that verified, if any.
	Strategy string `json:"strategy,omitempty"`
	// StatusTransition is the status the job moved to after an unschedule.
	StatusTransition string `json:"status_transition,omitempty"`
	StatusError      string `json:"status_error,omitempty"`

	Steps    []string `json:"steps,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewOutcome starts an outcome for a job.
func NewOutcome(jobID string, op Operation) *Outcome {
	return &Outcome{JobID: jobID, Operation: op}
}

// Step appends a state-machine step to the trail.
func (o *Outcome) Step(name string) {
	o.Steps = append(o.Steps, name)
}

// Warn records a non-fatal problem.
func (o *Outcome) Warn(msg string) {
	o.Warnings = append(o.Warnings, msg)
}

// Succeed marks the outcome successful.
func (o *Outcome) Succeed() *Outcome {
	o.Success = true
	o.Err = nil
	o.Error = ""
	return o
}

// Fail marks the outcome failed and copies mismatch details when present.
func (o *Outcome) Fail(err error) *Outcome {
	o.Success = false
	o.Err = err
	if err != nil {
		o.Error = err.Error()
	}
	var vm *VerificationMismatch
	if errors.As(err, &vm) {
		o.Missing = vm.Missing
		o.Stale = vm.Stale
		o.AssignedCount = vm.AssignedCount
		o.Unscheduled = vm.Unscheduled
	}
	return o
}

// SoftFailure reports a failure that must not roll back a local schedule change.
func (o *Outcome) SoftFailure() bool {
	return !o.Success && IsVerificationMismatch(o.Err)
}

// Warning renders the message shown to schedulers when the FSM disagrees.
func (o *Outcome) Warning() string {
	if o.Success {
		return ""
	}
	prefix := "scheduled locally"
	if o.Operation == OperationUnschedule {
		prefix = "unscheduled locally"
	}
	return prefix + ", external sync issue: " + o.Error
}
