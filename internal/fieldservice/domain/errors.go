package domain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrJobNotFound is returned when the FSM has no job for an identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoTeam is returned when an assignment cannot proceed without a team id.
	ErrNoTeam = errors.New("no team id could be resolved for assignment")

	// ErrInvalidIntent is returned when a schedule intent fails validation.
	ErrInvalidIntent = errors.New("invalid schedule intent")
)

// TransportError means no usable response was obtained from the FSM.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ApplicationError means the FSM answered but reported a failure, either
// through a non-2xx status or through an error envelope on a 2xx response.
type ApplicationError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ApplicationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// VerificationMismatch means a mutation looked successful but a re-fetch disagrees.
type VerificationMismatch struct {
	Missing       []string
	Stale         []string
	AssignedCount int
	Unscheduled   bool
	Detail        string
}

func (e *VerificationMismatch) Error() string {
	var parts []string
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing users ["+strings.Join(e.Missing, ", ")+"]")
	}
	if len(e.Stale) > 0 {
		parts = append(parts, "unexpected users ["+strings.Join(e.Stale, ", ")+"]")
	}
	if len(parts) == 0 {
		return "verification mismatch"
	}
	return "verification mismatch: " + strings.Join(parts, "; ")
}

// ResolutionFailure means a crew or team display name has no FSM identifier.
type ResolutionFailure struct {
	Kind string
	Name string
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout
}

// IsTransport reports whether err is a transport failure of any kind.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsApplication reports whether err is an FSM-reported failure.
func IsApplication(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// IsVerificationMismatch reports whether err is a soft verification failure.
func IsVerificationMismatch(err error) bool {
	var vm *VerificationMismatch
	return errors.As(err, &vm)
}

// IsResolutionFailure reports whether err is a name resolution miss.
func IsResolutionFailure(err error) bool {
	var rf *ResolutionFailure
	return errors.As(err, &rf)
}
