package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/services"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/window"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

const maxBodyBytes = 1 << 20

// Engine is the sync engine surface the handlers call.
type Engine interface {
	Create(ctx context.Context, intent domain.ScheduleIntent) (*domain.Outcome, error)
	Reschedule(ctx context.Context, intent domain.ScheduleIntent) (*domain.Outcome, error)
	Reconcile(ctx context.Context, req services.ReconcileRequest) (*domain.Outcome, error)
	Unschedule(ctx context.Context, req services.UnscheduleRequest) (*domain.Outcome, error)
	History(ctx context.Context, jobID string, limit int) ([]*domain.SyncRecord, error)
	ComputeWindow(intent domain.ScheduleIntent) (window.Result, error)
	ResolveCrew(ctx context.Context, names []string) domain.CrewResolution
}

// JobHandler handles job sync API requests.
type JobHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(engine Engine, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{engine: engine, logger: logger}
}

// OutcomeResponse is the body returned for every sync operation.
type OutcomeResponse struct {
	*domain.Outcome
	Warning string `json:"warning,omitempty"`
}

// AssignmentsRequest is the body of PUT /api/v1/jobs/{jobID}/assignments.
type AssignmentsRequest struct {
	UserIDs []string `json:"user_ids"`
	TeamID  string   `json:"team_id,omitempty"`
}

// WindowResponse is the body returned by POST /api/v1/window.
type WindowResponse struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	Timezone     string `json:"timezone"`
	ZoneFallback bool   `json:"zone_fallback"`
}

// CrewResponse is the body returned by GET /api/v1/crew/{name}.
type CrewResponse struct {
	Name    string   `json:"name"`
	UserIDs []string `json:"user_ids"`
	TeamID  string   `json:"team_id,omitempty"`
}

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var intent domain.ScheduleIntent
	if !h.decode(w, r, &intent) {
		return
	}
	outcome, err := h.engine.Create(r.Context(), intent)
	h.respond(w, r, outcome, err)
}

// RescheduleJob handles PUT /api/v1/jobs/{jobID}/schedule
func (h *JobHandler) RescheduleJob(w http.ResponseWriter, r *http.Request) {
	var intent domain.ScheduleIntent
	if !h.decode(w, r, &intent) {
		return
	}
	intent.JobID = r.PathValue("jobID")
	outcome, err := h.engine.Reschedule(r.Context(), intent)
	h.respond(w, r, outcome, err)
}

// UnscheduleJob handles DELETE /api/v1/jobs/{jobID}/schedule
func (h *JobHandler) UnscheduleJob(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.engine.Unschedule(r.Context(), services.UnscheduleRequest{
		JobID:            r.PathValue("jobID"),
		TransitionStatus: parseBoolParam(r, "transition", false),
	})
	h.respond(w, r, outcome, err)
}

// ReconcileAssignments handles PUT /api/v1/jobs/{jobID}/assignments
func (h *JobHandler) ReconcileAssignments(w http.ResponseWriter, r *http.Request) {
	var req AssignmentsRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.engine.Reconcile(r.Context(), services.ReconcileRequest{
		JobID:          r.PathValue("jobID"),
		DesiredUserIDs: req.UserIDs,
		TeamID:         req.TeamID,
	})
	h.respond(w, r, outcome, err)
}

// SyncRecords handles GET /api/v1/jobs/{jobID}/sync-records
func (h *JobHandler) SyncRecords(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	records, err := h.engine.History(r.Context(), jobID, parseIntParam(r, "limit", 20))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load sync records", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load sync records")
		return
	}
	if records == nil {
		records = []*domain.SyncRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  jobID,
		"records": records,
	})
}

// ResolveCrew handles GET /api/v1/crew/{name}
func (h *JobHandler) ResolveCrew(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	res := h.engine.ResolveCrew(r.Context(), []string{name})
	if len(res.UserIDs) == 0 {
		writeError(w, http.StatusNotFound, (&domain.ResolutionFailure{Kind: "crew", Name: name}).Error())
		return
	}
	writeJSON(w, http.StatusOK, CrewResponse{Name: name, UserIDs: res.UserIDs, TeamID: res.TeamID})
}

// ComputeWindow handles POST /api/v1/window
func (h *JobHandler) ComputeWindow(w http.ResponseWriter, r *http.Request) {
	var intent domain.ScheduleIntent
	if !h.decode(w, r, &intent) {
		return
	}
	win, err := h.engine.ComputeWindow(intent)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WindowResponse{
		Start:        win.StartString(),
		End:          win.EndString(),
		Timezone:     win.Location.String(),
		ZoneFallback: win.ZoneFallback,
	})
}

func (h *JobHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// respond maps an outcome onto a status: success and verification mismatch
// are 200, any other failure is 502 with the outcome as body.
func (h *JobHandler) respond(w http.ResponseWriter, r *http.Request, outcome *domain.Outcome, err error) {
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	status := http.StatusOK
	if !outcome.Success && !outcome.SoftFailure() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, OutcomeResponse{Outcome: outcome, Warning: outcome.Warning()})
}

func (h *JobHandler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrInvalidIntent) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}

func parseBoolParam(r *http.Request, name string, defaultVal bool) bool {
	if v := r.URL.Query().Get(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
