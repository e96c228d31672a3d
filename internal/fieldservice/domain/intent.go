package domain

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// DateLayout is the local calendar date format used by schedule intents.
const DateLayout = "2006-01-02"

// ScheduleIntent is the caller's desired state for one job.
type ScheduleIntent struct {
	JobID    string   `json:"job_id,omitempty"`
	Title    string   `json:"title,omitempty"`
	Category Category `json:"category"`

	// Date is the local calendar date (YYYY-MM-DD) the work starts on.
	Date string `json:"date"`
	// StartTime and EndTime are local clock times (HH:MM). Empty means default.
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	// DurationDays is measured in business days and may be fractional.
	DurationDays float64 `json:"duration_days,omitempty"`
	Timezone     string  `json:"timezone,omitempty"`

	// CrewNames are display names resolved through the name cache.
	CrewNames []string `json:"crew_names,omitempty"`
	// UserIDs are already-resolved FSM user identifiers.
	UserIDs []string `json:"user_ids,omitempty"`
	TeamID   string   `json:"team_id,omitempty"`
	TeamName string   `json:"team_name,omitempty"`
}

// Validate checks the intent. requireJob is set for operations on an
// existing job.
func (i ScheduleIntent) Validate(requireJob bool) error {
	if requireJob && i.JobID == "" {
		return errors.Wrap(ErrInvalidIntent, "job id is required")
	}
	if !i.Category.IsValid() {
		return errors.Wrapf(ErrInvalidIntent, "unknown category %q", i.Category)
	}
	if _, err := time.Parse(DateLayout, i.Date); err != nil {
		return errors.Wrapf(ErrInvalidIntent, "date %q must be YYYY-MM-DD", i.Date)
	}
	if i.DurationDays < 0 {
		return errors.Wrapf(ErrInvalidIntent, "duration %.2f must not be negative", i.DurationDays)
	}
	for _, clock := range []string{i.StartTime, i.EndTime} {
		if clock == "" {
			continue
		}
		if _, err := ParseClock(clock); err != nil {
			return errors.Wrapf(ErrInvalidIntent, "clock time %q must be HH:MM", clock)
		}
	}
	return nil
}

// Clock is a local wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return Clock{}, errors.Newf("invalid clock time %q", s)
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
