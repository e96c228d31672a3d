package fsm

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

// wireLayout is the datetime format the FSM reads and writes, always UTC.
const wireLayout = "2006-01-02 15:04:05"

var timeLayouts = []string{
	wireLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type object = map[string]any

func decodeObject(raw json.RawMessage) (object, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "decode fsm payload")
	}
	switch t := v.(type) {
	case object:
		return t, nil
	case []any:
		// Some endpoints answer a single-element list for a by-id lookup.
		if len(t) > 0 {
			if o, ok := t[0].(object); ok {
				return o, nil
			}
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func decodeList(raw json.RawMessage, keys ...string) ([]object, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "decode fsm list")
	}
	if o, ok := v.(object); ok {
		for _, k := range keys {
			if list, ok := o[k].([]any); ok {
				v = list
				break
			}
		}
	}
	list, _ := v.([]any)
	out := make([]object, 0, len(list))
	for _, item := range list {
		if o, ok := item.(object); ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// str returns the first non-empty string (or number) under any of keys.
func str(o object, keys ...string) string {
	for _, k := range keys {
		switch v := o[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func sub(o object, key string) object {
	v, _ := o[key].(object)
	return v
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func timeField(o object, keys ...string) *time.Time {
	for _, k := range keys {
		if s, ok := o[k].(string); ok {
			if t := parseTime(s); t != nil {
				return t
			}
		}
	}
	return nil
}

func formatWire(t time.Time) string {
	return t.UTC().Format(wireLayout)
}

// decodeJob maps a tolerant view of an FSM job payload onto domain.Job.
func decodeJob(o object) *domain.Job {
	job := &domain.Job{
		ID:    str(o, "job_uid", "uid", "id"),
		Title: str(o, "title", "job_title", "name"),
	}

	switch c := o["job_category"].(type) {
	case string:
		job.Category, _ = domain.ParseCategory(c)
	case object:
		job.Category, _ = domain.ParseCategory(str(c, "category_name", "name"))
	}

	job.Start = timeField(o, "scheduled_start_time", "scheduled_start_dt")
	job.End = timeField(o, "scheduled_end_time", "scheduled_end_dt")
	job.DueDate = timeField(o, "due_date")

	if list, ok := o["assigned_to"].([]any); ok {
		job.AssignedCount = len(list)
		for _, entry := range list {
			if a, ok := decodeAssignment(entry); ok {
				job.Assignments = append(job.Assignments, a)
			}
		}
	}

	job.TeamIDs = decodeTeamRefs(o["assigned_to_team"])

	if cur := sub(o, "current_job_status"); cur != nil {
		job.Status = domain.JobStatus{
			ID:   str(cur, "job_status_uid", "status_uid", "uid"),
			Name: str(cur, "status_name", "name"),
		}
	} else if name := str(o, "job_status", "status"); name != "" {
		job.Status = domain.JobStatus{Name: name}
	}

	for _, key := range []string{"job_status_history", "status_history"} {
		list, ok := o[key].([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			h, ok := item.(object)
			if !ok {
				continue
			}
			if nested := sub(h, "status"); nested != nil {
				h = nested
			}
			name := str(h, "status_name", "name")
			if name == "" {
				continue
			}
			job.StatusHistory = append(job.StatusHistory, domain.JobStatus{
				ID:   str(h, "job_status_uid", "status_uid", "uid"),
				Name: name,
			})
		}
	}

	return job
}

// decodeAssignment accepts the nested ({user:{user_uid}, team:{team_uid}})
// and flat ({user_uid, team_uid}) shapes. Anything else is opaque.
func decodeAssignment(entry any) (domain.Assignment, bool) {
	o, ok := entry.(object)
	if !ok {
		return domain.Assignment{}, false
	}
	var a domain.Assignment
	if u := sub(o, "user"); u != nil {
		a.UserID = str(u, "user_uid", "uid")
	}
	if a.UserID == "" {
		a.UserID = str(o, "user_uid")
	}
	if t := sub(o, "team"); t != nil {
		a.TeamID = str(t, "team_uid", "uid")
	}
	if a.TeamID == "" {
		a.TeamID = str(o, "team_uid")
	}
	return a, a.UserID != ""
}

func decodeTeamRefs(v any) []string {
	var refs []any
	switch t := v.(type) {
	case []any:
		refs = t
	case object, string:
		refs = []any{t}
	default:
		return nil
	}
	var ids []string
	for _, r := range refs {
		switch t := r.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				ids = append(ids, s)
			}
		case object:
			id := str(t, "team_uid", "uid")
			if id == "" {
				if nested := sub(t, "team"); nested != nil {
					id = str(nested, "team_uid", "uid")
				}
			}
			if id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func decodeTeam(o object) domain.Team {
	team := domain.Team{
		ID:   str(o, "team_uid", "uid", "id"),
		Name: str(o, "team_name", "name"),
	}
	team.Members = decodeMembers(o)
	return team
}

func decodeMembers(o object) []domain.Member {
	var list []any
	for _, key := range []string{"users", "members", "team_members"} {
		if l, ok := o[key].([]any); ok {
			list = l
			break
		}
	}
	members := make([]domain.Member, 0, len(list))
	for _, item := range list {
		m, ok := item.(object)
		if !ok {
			continue
		}
		if u := sub(m, "user"); u != nil {
			m = u
		}
		member := domain.Member{
			UserID:    str(m, "user_uid", "uid"),
			FirstName: str(m, "first_name"),
			LastName:  str(m, "last_name"),
			Email:     str(m, "email"),
		}
		if member.UserID == "" {
			continue
		}
		members = append(members, member)
	}
	return members
}

// decodeUserTeam extracts a team id from a user profile payload.
func decodeUserTeam(o object) string {
	if id := decodeTeamRefs(o["team"]); len(id) > 0 {
		return id[0]
	}
	if id := decodeTeamRefs(o["teams"]); len(id) > 0 {
		return id[0]
	}
	return str(o, "team_uid")
}
