package fsm

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetJob_AssignmentShapes(t *testing.T) {
	tests := []struct {
		name        string
		assigned    []any
		wantUsers   []string
		wantCount   int
		wantOpaque  bool
		wantTeamFor map[string]string
	}{
		{
			name: "nested",
			assigned: []any{
				map[string]any{"user": map[string]any{"user_uid": "u1"}, "team": map[string]any{"team_uid": "t1"}},
			},
			wantUsers:   []string{"u1"},
			wantCount:   1,
			wantTeamFor: map[string]string{"u1": "t1"},
		},
		{
			name: "flat",
			assigned: []any{
				map[string]any{"user_uid": "u1", "team_uid": "t1"},
				map[string]any{"user_uid": "u2"},
			},
			wantUsers:   []string{"u1", "u2"},
			wantCount:   2,
			wantTeamFor: map[string]string{"u1": "t1", "u2": ""},
		},
		{
			name:       "opaque",
			assigned:   []any{map[string]any{"display": "Crew A"}, "u9"},
			wantUsers:  []string{},
			wantCount:  2,
			wantOpaque: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/jobs/job-1", r.URL.Path)
				writeJSON(w, map[string]any{
					"type": "success",
					"data": map[string]any{
						"job_uid":              "job-1",
						"job_category":         map[string]any{"category_name": "Site Survey"},
						"scheduled_start_time": "2025-03-10 14:00:00",
						"scheduled_end_time":   "2025-03-10 16:00:00",
						"assigned_to":          tt.assigned,
						"assigned_to_team":     []any{map[string]any{"team_uid": "t-denorm"}},
					},
				})
			})

			job, err := client.GetJob(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, domain.CategorySurvey, job.Category)
			assert.Equal(t, tt.wantUsers, job.AssignedUserIDs())
			assert.Equal(t, tt.wantCount, job.AssignedCount)
			assert.Equal(t, tt.wantOpaque, job.OpaqueAssignment())
			assert.Equal(t, "t-denorm", job.PrimaryTeamID())
			for user, team := range tt.wantTeamFor {
				assert.Equal(t, team, job.TeamForUser(user))
			}
			require.NotNil(t, job.Start)
			assert.Equal(t, time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC), *job.Start)
		})
	}
}

func TestGetJob_StatusAndShadowFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"job_uid":              "job-2",
			"scheduled_start_time": nil,
			"scheduled_start_dt":   "2025-04-01T15:00:00Z",
			"scheduled_end_dt":     "2025-04-01T15:00:00Z",
			"current_job_status":   map[string]any{"job_status_uid": "s-1", "status_name": "Scheduled"},
			"job_status_history": []any{
				map[string]any{"status": map[string]any{"job_status_uid": "s-2", "status_name": "Ready To Build"}},
			},
		})
	})

	job, err := client.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	assert.True(t, job.IsUnscheduled(), "zero-length window counts as unscheduled")
	assert.Equal(t, "Scheduled", job.Status.Name)

	status, ok := job.FindStatus("ready to build")
	require.True(t, ok)
	assert.Equal(t, "s-2", status.ID)
}

func TestGetJob_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"message": "no such job"})
	})

	_, err := client.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
	assert.True(t, domain.IsApplication(err))
}

func TestCreateJob_SendsAssignmentsAndReturnsID(t *testing.T) {
	var body map[string]map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, map[string]any{"type": "success", "data": map[string]any{"job_uid": "new-1"}})
	})

	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	id, err := client.CreateJob(context.Background(), domain.NewJob{
		Title:       "Smith construction",
		Category:    domain.CategoryConstruction,
		Start:       start,
		End:         start.Add(9 * time.Hour),
		Assignments: []domain.Assignment{{UserID: "u1", TeamID: "t1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)

	job := body["job"]
	assert.Equal(t, "2025-03-10 14:00:00", job["scheduled_start_time"])
	assert.Equal(t, "Construction", job["job_category"])
	assigned := job["assigned_to"].([]any)
	require.Len(t, assigned, 1)
	assert.Equal(t, "t1", assigned[0].(map[string]any)["team_uid"])
}

func TestRescheduleJob_Payload(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/schedule", r.URL.Path)
		assert.Equal(t, http.MethodPut, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, map[string]any{"type": "success"})
	})

	denver, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	start := time.Date(2025, 3, 9, 8, 0, 0, 0, denver)
	require.NoError(t, client.RescheduleJob(context.Background(), "job-1", start, start.Add(time.Hour)))

	assert.Equal(t, "job-1", body["job_uid"])
	assert.Equal(t, "2025-03-09 14:00:00", body["from_date"])
	assert.Equal(t, "2025-03-09 15:00:00", body["to_date"])
}

func TestClearAndNullifySchedule_Payloads(t *testing.T) {
	var bodies []map[string]map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		writeJSON(w, map[string]any{"type": "success"})
	})

	due := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, client.ClearSchedule(context.Background(), "job-1", &due))
	require.NoError(t, client.NullifySchedule(context.Background(), "job-1", nil))
	require.Len(t, bodies, 2)

	assert.Equal(t, true, bodies[0]["job"]["clear_schedule"])
	assert.Equal(t, "2025-05-01 00:00:00", bodies[0]["job"]["due_date"])

	nulls := bodies[1]["job"]
	for _, key := range []string{"scheduled_start_time", "scheduled_end_time", "scheduled_start_dt", "scheduled_end_dt"} {
		v, ok := nulls[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
	_, hasDue := nulls["due_date"]
	assert.False(t, hasDue)
}

func TestUpdateAssignments_RetriesWithoutTeam(t *testing.T) {
	var payloads []map[string][]map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job-1/assignment", r.URL.Path)
		var body map[string][]map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		payloads = append(payloads, body)
		if _, ok := body["users"][0]["team_uid"]; ok {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]any{"message": "team_uid not allowed"})
			return
		}
		writeJSON(w, map[string]any{"type": "success"})
	})

	err := client.UpdateAssignments(context.Background(), "job-1", []domain.AssignmentChange{
		{Type: domain.ChangeAssign, UserID: "u1", TeamID: "t1"},
	})
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "ASSIGN", payloads[1]["users"][0]["type"])
	assert.Equal(t, "u1", payloads[1]["users"][0]["user_uid"])
}

func TestUpdateAssignments_TransportFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
		}
	})

	err := client.UpdateAssignments(context.Background(), "job-1", []domain.AssignmentChange{
		{Type: domain.ChangeUnassign, UserID: "u1", TeamID: "t1"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTeamMembers_FallsBackToSummary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/teams/t1":
			w.WriteHeader(http.StatusForbidden)
		case "/teams/summary/t1":
			writeJSON(w, map[string]any{"data": map[string]any{
				"team_uid": "t1",
				"members": []any{
					map[string]any{"user": map[string]any{"user_uid": "u1", "first_name": "Ana"}},
					map[string]any{"user_uid": "u2"},
				},
			}, "type": "success"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	members, err := client.TeamMembers(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "u1", members[0].UserID)
	assert.Equal(t, "Ana", members[0].FirstName)
}

func TestUserTeam(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/u1", r.URL.Path)
		writeJSON(w, map[string]any{"user_uid": "u1", "team": map[string]any{"team_uid": "t7"}})
	})

	team, err := client.UserTeam(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "t7", team)
}

func TestListTeams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/team", r.URL.Path)
		writeJSON(w, map[string]any{"type": "success", "data": []any{
			map[string]any{
				"team_uid":  "t1",
				"team_name": "Install Crew North",
				"users": []any{
					map[string]any{"user_uid": "u1", "first_name": "Ana", "last_name": "Lopez", "email": "ana@example.com"},
				},
			},
			map[string]any{"team_name": "no id"},
		}})
	})

	teams, err := client.ListTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "Install Crew North", teams[0].Name)
	assert.Equal(t, "Ana Lopez", teams[0].Members[0].FullName())
}
