package cli

import (
	"context"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/services"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/window"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

// SyncEngine is the engine surface the commands drive.
type SyncEngine interface {
	Create(ctx context.Context, intent domain.ScheduleIntent) (*domain.Outcome, error)
	Reschedule(ctx context.Context, intent domain.ScheduleIntent) (*domain.Outcome, error)
	Reconcile(ctx context.Context, req services.ReconcileRequest) (*domain.Outcome, error)
	Unschedule(ctx context.Context, req services.UnscheduleRequest) (*domain.Outcome, error)
	History(ctx context.Context, jobID string, limit int) ([]*domain.SyncRecord, error)
	ComputeWindow(intent domain.ScheduleIntent) (window.Result, error)
	ResolveCrew(ctx context.Context, names []string) domain.CrewResolution
}

// EventRelay moves recorded events from the outbox to the bus.
type EventRelay interface {
	FlushEvents(ctx context.Context) error
	StartEvents(ctx context.Context) error
}

// APIServer is the HTTP adapter run by serve.
type APIServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// App holds the CLI application dependencies.
type App struct {
	Engine SyncEngine
	Events EventRelay
	Health *observability.HealthRegistry

	API APIServer
}

// NewApp creates a new CLI application.
func NewApp(engine SyncEngine, events EventRelay, health *observability.HealthRegistry) *App {
	return &App{
		Engine: engine,
		Events: events,
		Health: health,
	}
}

// SetAPI sets the HTTP server used by serve.
func (a *App) SetAPI(server APIServer) {
	a.API = server
}

// flush publishes pending events before a short-lived command exits. A
// failure stays in the outbox for the worker to retry.
func (a *App) flush(ctx context.Context) {
	if a.Events == nil {
		return
	}
	if err := a.Events.FlushEvents(ctx); err != nil {
		Logger().Warn("events left in outbox", "error", err)
	}
}

var app *App

// SetApp sets the global CLI application.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application.
func GetApp() *App {
	return app
}
