package services

import (
	"context"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

type userSet map[string]struct{}

func newUserSet(ids []string) userSet {
	s := make(userSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s userSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

// minus returns the ids not in other, keeping the input order.
func minus(ids []string, other userSet) []string {
	var out []string
	seen := make(userSet, len(ids))
	for _, id := range ids {
		if id == "" || other.has(id) || seen.has(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// unassign removes users in one batch. Each pair carries the team recorded
// on the job for that user, else fallbackTeam.
func unassign(ctx context.Context, gw Gateway, job *domain.Job, userIDs []string, fallbackTeam string) error {
	if len(userIDs) == 0 {
		return nil
	}
	changes := make([]domain.AssignmentChange, 0, len(userIDs))
	for _, id := range userIDs {
		team := job.TeamForUser(id)
		if team == "" {
			team = fallbackTeam
		}
		changes = append(changes, domain.AssignmentChange{Type: domain.ChangeUnassign, UserID: id, TeamID: team})
	}
	return gw.UpdateAssignments(ctx, job.ID, changes)
}

// sweep unassigns every member of teamID that is not in keep. It is the only
// way to clear an assignment list whose entries carry no user identifier.
// It returns the users it unassigned.
func sweep(ctx context.Context, gw Gateway, jobID, teamID string, keep userSet) ([]string, error) {
	members, err := gw.TeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	var changes []domain.AssignmentChange
	var removed []string
	for _, m := range members {
		if m.UserID == "" || keep.has(m.UserID) {
			continue
		}
		changes = append(changes, domain.AssignmentChange{Type: domain.ChangeUnassign, UserID: m.UserID, TeamID: teamID})
		removed = append(removed, m.UserID)
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return removed, gw.UpdateAssignments(ctx, jobID, changes)
}
