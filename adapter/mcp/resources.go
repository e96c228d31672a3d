package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fieldsync/adapter/cli"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/window"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/mcp-go"
)

// RegisterResources registers MCP resources that expose sync state.
func RegisterResources(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return fmt.Errorf("server is required")
	}

	registerSystemResources(srv, deps)
	registerCategoryResources(srv)
	return nil
}

func registerSystemResources(srv *mcp.Server, deps ToolDependencies) {
	app := deps.App

	srv.Resource("fieldsync://health").
		Name("Health").
		Description("Health of the FSM client, database and event broker").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			payload := map[string]any{
				"status":    "healthy",
				"timestamp": time.Now().UTC(),
			}
			if app != nil && app.Health != nil {
				health := app.Health.GetOverallHealth(ctx)
				payload["status"] = health.Status
				payload["checks"] = health.Checks
			}
			return jsonResource(uri, payload)
		})

	srv.Resource("fieldsync://version").
		Name("Version").
		Description("Build information").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			return jsonResource(uri, cli.Build())
		})
}

type categoryInfo struct {
	Name        domain.Category `json:"name"`
	SingleSlot  bool            `json:"single_slot"`
	ReadyStatus string          `json:"ready_status"`
	DayStart    string          `json:"default_day_start"`
	DayEnd      string          `json:"default_day_end"`
	WorkdayHrs  float64         `json:"workday_hours"`
}

func registerCategoryResources(srv *mcp.Server) {
	srv.Resource("fieldsync://categories").
		Name("Categories").
		Description("Schedule categories and the window defaults applied to each").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			categories := []domain.Category{
				domain.CategorySurvey,
				domain.CategoryConstruction,
				domain.CategoryInspection,
			}
			infos := make([]categoryInfo, 0, len(categories))
			for _, c := range categories {
				infos = append(infos, categoryInfo{
					Name:        c,
					SingleSlot:  c.IsSingleSlot(),
					ReadyStatus: c.ReadyStatusName(),
					DayStart:    window.DefaultDayStart.String(),
					DayEnd:      window.DefaultEndOfBusiness.String(),
					WorkdayHrs:  window.DefaultWorkdayHours,
				})
			}
			return jsonResource(uri, infos)
		})
}

func jsonResource(uri string, v any) (*mcp.ResourceContent, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ResourceContent{
		URI:      uri,
		MimeType: "application/json",
		Text:     string(data),
	}, nil
}
