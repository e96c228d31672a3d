package fsm

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

// GetJob fetches a job snapshot.
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	data, err := c.do(ctx, "get_job", http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		var ae *domain.ApplicationError
		if errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound {
			return nil, errors.Mark(err, domain.ErrJobNotFound)
		}
		return nil, err
	}
	o, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	if len(o) == 0 {
		return nil, errors.Wrapf(domain.ErrJobNotFound, "job %s", jobID)
	}
	job := decodeJob(o)
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// CreateJob creates a job with its initial assignment and returns the new id.
func (c *Client) CreateJob(ctx context.Context, nj domain.NewJob) (string, error) {
	job := map[string]any{
		"title":                nj.Title,
		"job_category":         categoryLabel(nj.Category),
		"scheduled_start_time": formatWire(nj.Start),
		"scheduled_end_time":   formatWire(nj.End),
	}
	if !nj.DueDate.IsZero() {
		job["due_date"] = formatWire(nj.DueDate)
	}
	if len(nj.Assignments) > 0 {
		assigned := make([]map[string]any, 0, len(nj.Assignments))
		for _, a := range nj.Assignments {
			entry := map[string]any{"user_uid": a.UserID}
			if a.TeamID != "" {
				entry["team_uid"] = a.TeamID
			}
			assigned = append(assigned, entry)
		}
		job["assigned_to"] = assigned
	}

	data, err := c.do(ctx, "create_job", http.MethodPost, "/jobs", map[string]any{"job": job})
	if err != nil {
		return "", err
	}
	o, err := decodeObject(data)
	if err != nil {
		return "", err
	}
	id := str(o, "job_uid", "uid", "id")
	if id == "" {
		if nested := sub(o, "job"); nested != nil {
			id = str(nested, "job_uid", "uid", "id")
		}
	}
	if id == "" {
		return "", &domain.ApplicationError{Op: "create_job", StatusCode: http.StatusOK, Message: "response carried no job id"}
	}
	return id, nil
}

// RescheduleJob moves a job to a new UTC window.
func (c *Client) RescheduleJob(ctx context.Context, jobID string, start, end time.Time) error {
	_, err := c.do(ctx, "reschedule_job", http.MethodPut, "/jobs/schedule", map[string]any{
		"job_uid":   jobID,
		"from_date": formatWire(start),
		"to_date":   formatWire(end),
	})
	return err
}

// ClearSchedule asks the FSM to drop the window through its clear flag.
func (c *Client) ClearSchedule(ctx context.Context, jobID string, due *time.Time) error {
	job := map[string]any{
		"job_uid":        jobID,
		"clear_schedule": true,
	}
	if due != nil {
		job["due_date"] = formatWire(*due)
	}
	_, err := c.do(ctx, "clear_schedule", http.MethodPut, "/jobs", map[string]any{"job": job})
	return err
}

// NullifySchedule nulls both the primary and the datetime-typed window fields.
func (c *Client) NullifySchedule(ctx context.Context, jobID string, due *time.Time) error {
	job := map[string]any{
		"job_uid":              jobID,
		"scheduled_start_time": nil,
		"scheduled_end_time":   nil,
		"scheduled_start_dt":   nil,
		"scheduled_end_dt":     nil,
	}
	if due != nil {
		job["due_date"] = formatWire(*due)
	}
	_, err := c.do(ctx, "nullify_schedule", http.MethodPut, "/jobs", map[string]any{"job": job})
	return err
}

// ReplaceAssignments overwrites the whole assignment list.
func (c *Client) ReplaceAssignments(ctx context.Context, jobID string, userIDs []string) error {
	assigned := make([]map[string]string, 0, len(userIDs))
	for _, id := range userIDs {
		assigned = append(assigned, map[string]string{"user_uid": id})
	}
	_, err := c.do(ctx, "replace_assignments", http.MethodPut, "/jobs", map[string]any{
		"job": map[string]any{"job_uid": jobID, "assigned_to": assigned},
	})
	return err
}

// UpdateAssignments sends one assign/unassign batch. A tenant that rejects
// team_uid gets the same batch once more without it.
func (c *Client) UpdateAssignments(ctx context.Context, jobID string, changes []domain.AssignmentChange) error {
	if len(changes) == 0 {
		return nil
	}
	path := "/jobs/" + url.PathEscape(jobID) + "/assignment"

	_, err := c.do(ctx, "update_assignments", http.MethodPut, path, assignmentBody(changes, true))
	if err == nil || !domain.IsApplication(err) || !hasTeam(changes) {
		return err
	}

	c.logger.Info("retrying assignment update without team ids", "job_id", jobID, "error", err)
	_, err = c.do(ctx, "update_assignments", http.MethodPut, path, assignmentBody(changes, false))
	return err
}

func assignmentBody(changes []domain.AssignmentChange, withTeam bool) map[string]any {
	users := make([]map[string]string, 0, len(changes))
	for _, ch := range changes {
		entry := map[string]string{"type": string(ch.Type), "user_uid": ch.UserID}
		if withTeam && ch.TeamID != "" {
			entry["team_uid"] = ch.TeamID
		}
		users = append(users, entry)
	}
	return map[string]any{"users": users}
}

func hasTeam(changes []domain.AssignmentChange) bool {
	for _, ch := range changes {
		if ch.TeamID != "" {
			return true
		}
	}
	return false
}

// UpdateStatusByName transitions a job using a status display name.
func (c *Client) UpdateStatusByName(ctx context.Context, jobID, statusName string) error {
	_, err := c.do(ctx, "update_status", http.MethodPut, "/jobs/status", map[string]any{
		"job_uid":     jobID,
		"status_name": statusName,
	})
	return err
}

// UpdateStatusByID transitions a job using a tenant status identifier.
func (c *Client) UpdateStatusByID(ctx context.Context, jobID, statusID string) error {
	_, err := c.do(ctx, "update_status", http.MethodPut, "/jobs/"+url.PathEscape(jobID)+"/status", map[string]any{
		"status_uid": statusID,
	})
	return err
}

// TeamMembers lists a team's members, falling back to the summary endpoint.
func (c *Client) TeamMembers(ctx context.Context, teamID string) ([]domain.Member, error) {
	escaped := url.PathEscape(teamID)
	data, err := c.do(ctx, "get_team", http.MethodGet, "/teams/"+escaped, nil)
	if err == nil {
		o, derr := decodeObject(data)
		if derr == nil && o != nil {
			if members := decodeMembers(o); len(members) > 0 {
				return members, nil
			}
		}
	}

	data, serr := c.do(ctx, "get_team_summary", http.MethodGet, "/teams/summary/"+escaped, nil)
	if serr != nil {
		if err != nil {
			return nil, errors.CombineErrors(err, serr)
		}
		return nil, serr
	}
	o, derr := decodeObject(data)
	if derr != nil {
		return nil, derr
	}
	return decodeMembers(o), nil
}

// UserTeam returns the team id on a user's profile, or "" if it has none.
func (c *Client) UserTeam(ctx context.Context, userID string) (string, error) {
	data, err := c.do(ctx, "get_user", http.MethodGet, "/user/"+url.PathEscape(userID), nil)
	if err != nil {
		return "", err
	}
	o, err := decodeObject(data)
	if err != nil {
		return "", err
	}
	return decodeUserTeam(o), nil
}

// ListTeams returns every team with its embedded member records.
func (c *Client) ListTeams(ctx context.Context) ([]domain.Team, error) {
	data, err := c.do(ctx, "list_teams", http.MethodGet, "/team", nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(data, "teams", "data", "items")
	if err != nil {
		return nil, err
	}
	teams := make([]domain.Team, 0, len(items))
	for _, o := range items {
		team := decodeTeam(o)
		if team.ID == "" {
			continue
		}
		teams = append(teams, team)
	}
	return teams, nil
}

func categoryLabel(c domain.Category) string {
	switch c {
	case domain.CategorySurvey:
		return "Survey"
	case domain.CategoryConstruction:
		return "Construction"
	case domain.CategoryInspection:
		return "Inspection"
	default:
		return string(c)
	}
}
