// Package domain holds the field-service job model shared by the
// reconciliation engine and its adapters.
package domain

import (
	"strings"
	"time"
)

// Category identifies one of the three schedule types hosted in the FSM.
type Category string

const (
	CategorySurvey       Category = "survey"
	CategoryConstruction Category = "construction"
	CategoryInspection   Category = "inspection"
)

// IsValid returns true if the category is a known schedule type.
func (c Category) IsValid() bool {
	switch c {
	case CategorySurvey, CategoryConstruction, CategoryInspection:
		return true
	default:
		return false
	}
}

// IsSingleSlot reports whether jobs of this category occupy one same-day slot.
func (c Category) IsSingleSlot() bool {
	return c == CategorySurvey || c == CategoryInspection
}

// ReadyStatusName is the status a job returns to once its schedule is cleared.
func (c Category) ReadyStatusName() string {
	switch c {
	case CategoryConstruction:
		return "Ready To Build"
	case CategoryInspection:
		return "Ready For Inspection"
	default:
		return "Ready To Schedule"
	}
}

// ParseCategory maps a free-form FSM category label onto a Category.
// Labels like "Site Survey" or "Install / Construction" are accepted.
func ParseCategory(label string) (Category, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return "", false
	case strings.Contains(l, "survey"):
		return CategorySurvey, true
	case strings.Contains(l, "inspection"):
		return CategoryInspection, true
	case strings.Contains(l, "construction"), strings.Contains(l, "install"):
		return CategoryConstruction, true
	default:
		return "", false
	}
}

// Assignment attaches one worker to a job.
type Assignment struct {
	UserID string `json:"user_id"`
	TeamID string `json:"team_id,omitempty"`
}

// JobStatus is a status name paired with its tenant-specific identifier.
type JobStatus struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Job is a transient snapshot of an FSM job. It is never persisted locally.
type Job struct {
	ID       string
	Title    string
	Category Category
	Start    *time.Time
	End      *time.Time
	DueDate  *time.Time

	// Assignments holds the entries that could be parsed into identifiers.
	Assignments []Assignment
	// AssignedCount is the raw length of the FSM assignment list, independent
	// of whether its entries could be parsed.
	AssignedCount int
	// TeamIDs comes from the job's denormalized team-assignment field.
	TeamIDs []string

	Status        JobStatus
	StatusHistory []JobStatus
}

// OpaqueAssignment reports an assignment list whose entries carry no
// extractable user identifier.
func (j *Job) OpaqueAssignment() bool {
	return j.AssignedCount > 0 && len(j.Assignments) == 0
}

// UnparsedCount is the number of raw assignment entries that carry no user
// id. A user listed twice is not counted.
func (j *Job) UnparsedCount() int {
	parsed := 0
	for _, a := range j.Assignments {
		if a.UserID != "" {
			parsed++
		}
	}
	if n := j.AssignedCount - parsed; n > 0 {
		return n
	}
	return 0
}

// AssignedUserIDs returns the distinct parsed user ids in FSM order.
func (j *Job) AssignedUserIDs() []string {
	seen := make(map[string]struct{}, len(j.Assignments))
	ids := make([]string, 0, len(j.Assignments))
	for _, a := range j.Assignments {
		if a.UserID == "" {
			continue
		}
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		ids = append(ids, a.UserID)
	}
	return ids
}

// TeamForUser returns the team recorded against a user's assignment, if any.
func (j *Job) TeamForUser(userID string) string {
	for _, a := range j.Assignments {
		if a.UserID == userID && a.TeamID != "" {
			return a.TeamID
		}
	}
	return ""
}

// PrimaryTeamID returns the first denormalized team id on the job.
func (j *Job) PrimaryTeamID() string {
	for _, id := range j.TeamIDs {
		if id != "" {
			return id
		}
	}
	return ""
}

// IsUnscheduled reports whether the job carries no schedule window. Some
// tenants represent a cleared schedule as a zero-length window, which counts
// as unscheduled too.
func (j *Job) IsUnscheduled() bool {
	if j.Start == nil && j.End == nil {
		return true
	}
	if j.Start != nil && j.End != nil && j.Start.Equal(*j.End) {
		return true
	}
	return false
}

// IsCleared reports the unschedule terminal state: nothing assigned and no window.
func (j *Job) IsCleared() bool {
	return j.AssignedCount == 0 && j.IsUnscheduled()
}

// FindStatus looks up a status by case-insensitive name, first in the job's
// status history and then against its current status.
func (j *Job) FindStatus(name string) (JobStatus, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, s := range j.StatusHistory {
		if strings.ToLower(strings.TrimSpace(s.Name)) == want {
			return s, true
		}
	}
	if strings.ToLower(strings.TrimSpace(j.Status.Name)) == want {
		return j.Status, true
	}
	return JobStatus{}, false
}

// NewJob is the payload for creating a job. Assignment can only be supplied here.
type NewJob struct {
	Title       string
	Category    Category
	Start       time.Time
	End         time.Time
	DueDate     time.Time
	Assignments []Assignment
}

// ChangeType is the kind of assignment mutation sent to the FSM.
type ChangeType string

const (
	ChangeAssign   ChangeType = "ASSIGN"
	ChangeUnassign ChangeType = "UNASSIGN"
)

// AssignmentChange is one entry of an assign/unassign batch.
type AssignmentChange struct {
	Type   ChangeType
	UserID string
	TeamID string
}

// Member is a user listed under a team in the FSM directory.
type Member struct {
	UserID    string
	FirstName string
	LastName  string
	Email     string
}

// FullName returns "first last" with surrounding blanks trimmed.
func (m Member) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(m.FirstName) + " " + strings.TrimSpace(m.LastName))
}

// Team is a crew in the FSM directory together with its members.
type Team struct {
	ID      string
	Name    string
	Members []Member
}

// CrewResolution is the result of resolving crew display names to users.
type CrewResolution struct {
	UserIDs []string
	TeamID  string
	// Missing lists names that resolved to nothing.
	Missing []string
}
