package app

import (
	"context"
	"time"
)

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	OutboxDeleted      int64
	SyncRecordsDeleted int64
	RecentFailures     int
}

// RunMaintenance prunes published outbox messages and old sync records and
// counts sync failures seen since the last pass. Each step runs even if an
// earlier one failed; the first error is returned.
func (c *Container) RunMaintenance(ctx context.Context, since time.Time) (MaintenanceReport, error) {
	var report MaintenanceReport
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.OutboxProcessor != nil {
		n, err := c.OutboxProcessor.Cleanup(ctx)
		keep(err)
		report.OutboxDeleted = n
	}

	if c.SyncRecords != nil {
		if c.Config.SyncRecordRetention > 0 {
			n, err := c.SyncRecords.DeleteOlderThan(ctx, c.Config.SyncRecordRetention)
			keep(err)
			report.SyncRecordsDeleted = n
			if n > 0 {
				c.Logger.Info("sync record cleanup", "deleted", n, "retention", c.Config.SyncRecordRetention)
			}
		}

		failures, err := c.SyncRecords.FindRecentFailures(ctx, since, 100)
		keep(err)
		report.RecentFailures = len(failures)
		for _, f := range failures {
			c.Logger.Warn("recent sync failure",
				"job_id", f.JobID,
				"operation", f.Operation,
				"error", f.Error,
				"at", f.CreatedAt,
			)
		}
	}

	return report, firstErr
}

// RefreshDirectory reloads the crew name cache from the FSM.
func (c *Container) RefreshDirectory(ctx context.Context) error {
	if c.Directory == nil {
		return nil
	}
	return c.Directory.Refresh(ctx)
}
