package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/migrations"
)

// setupSyncRecordDB opens a file-backed SQLite database with the schema applied.
func setupSyncRecordDB(t *testing.T) database.Connection {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.NewConnection(ctx, database.Config{
		SQLitePath: filepath.Join(t.TempDir(), "records.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.Run(ctx, conn))
	return conn
}

func newRecord(jobID string, op domain.Operation, success bool, at time.Time) *domain.SyncRecord {
	return &domain.SyncRecord{
		ID:        uuid.New(),
		JobID:     jobID,
		Operation: op,
		Success:   success,
		CreatedAt: at,
	}
}

func TestSQLiteSyncRecordRepository_SaveAndFindByJob(t *testing.T) {
	repo := NewSQLiteSyncRecordRepository(setupSyncRecordDB(t))
	ctx := context.Background()
	base := time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC)

	first := newRecord("J-1", domain.OperationCreate, true, base)
	first.AssignedCount = 2
	first.CorrelationID = "corr-1"
	second := newRecord("J-1", domain.OperationReconcile, false, base.Add(time.Minute))
	second.Error = "verification mismatch: missing [u2]"
	second.Missing = []string{"u2"}
	second.Stale = []string{"u9"}
	other := newRecord("J-2", domain.OperationUnschedule, true, base)
	other.Unscheduled = true
	other.Strategy = "clear_flag"

	for _, r := range []*domain.SyncRecord{first, second, other} {
		require.NoError(t, repo.Save(ctx, r))
	}

	records, err := repo.FindByJob(ctx, "J-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, domain.OperationReconcile, records[0].Operation)
	assert.False(t, records[0].Success)
	assert.Equal(t, []string{"u2"}, records[0].Missing)
	assert.Equal(t, []string{"u9"}, records[0].Stale)
	assert.Equal(t, second.Error, records[0].Error)

	assert.Equal(t, first.ID, records[1].ID)
	assert.True(t, records[1].Success)
	assert.Equal(t, 2, records[1].AssignedCount)
	assert.Equal(t, "corr-1", records[1].CorrelationID)
	assert.Nil(t, records[1].Missing)
	assert.True(t, base.Equal(records[1].CreatedAt))

	others, err := repo.FindByJob(ctx, "J-2", 10)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.True(t, others[0].Unscheduled)
	assert.Equal(t, "clear_flag", others[0].Strategy)
}

func TestSQLiteSyncRecordRepository_FindByJobHonoursLimit(t *testing.T) {
	repo := NewSQLiteSyncRecordRepository(setupSyncRecordDB(t))
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, newRecord("J-1", domain.OperationReconcile, true, base.Add(time.Duration(i)*time.Second))))
	}

	records, err := repo.FindByJob(ctx, "J-1", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt))
}

func TestSQLiteSyncRecordRepository_FindRecentFailures(t *testing.T) {
	repo := NewSQLiteSyncRecordRepository(setupSyncRecordDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, newRecord("J-old", domain.OperationReconcile, false, now.Add(-48*time.Hour))))
	require.NoError(t, repo.Save(ctx, newRecord("J-ok", domain.OperationReconcile, true, now.Add(-time.Hour))))
	require.NoError(t, repo.Save(ctx, newRecord("J-bad", domain.OperationUnschedule, false, now.Add(-time.Hour))))

	records, err := repo.FindRecentFailures(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "J-bad", records[0].JobID)
}

func TestSQLiteSyncRecordRepository_DeleteOlderThan(t *testing.T) {
	repo := NewSQLiteSyncRecordRepository(setupSyncRecordDB(t))
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Save(ctx, newRecord("J-1", domain.OperationCreate, true, now.Add(-40*24*time.Hour))))
	require.NoError(t, repo.Save(ctx, newRecord("J-1", domain.OperationReconcile, true, now.Add(-time.Hour))))

	n, err := repo.DeleteOlderThan(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := repo.FindByJob(ctx, "J-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.OperationReconcile, records[0].Operation)
}

func TestSQLiteSyncRecordRepository_SaveRollsBackWithTransaction(t *testing.T) {
	conn := setupSyncRecordDB(t)
	repo := NewSQLiteSyncRecordRepository(conn)
	uow := database.NewUnitOfWork(conn)

	txCtx, err := uow.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, repo.Save(txCtx, newRecord("J-1", domain.OperationCreate, true, time.Now())))
	require.NoError(t, uow.Rollback(txCtx))

	records, err := repo.FindByJob(context.Background(), "J-1", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
