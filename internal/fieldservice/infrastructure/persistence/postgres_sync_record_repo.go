package persistence

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database"
)

// PostgresSyncRecordRepository implements SyncRecordRepository using PostgreSQL.
type PostgresSyncRecordRepository struct {
	conn database.Connection
}

// NewPostgresSyncRecordRepository creates a new PostgreSQL sync record repository.
func NewPostgresSyncRecordRepository(conn database.Connection) *PostgresSyncRecordRepository {
	return &PostgresSyncRecordRepository{conn: conn}
}

// Save appends a record.
func (r *PostgresSyncRecordRepository) Save(ctx context.Context, record *domain.SyncRecord) error {
	query := `
		INSERT INTO sync_records (` + syncRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	missing, stale, err := encodeIDLists(record)
	if err != nil {
		return err
	}

	exec := database.ExecutorFromContext(ctx, r.conn)
	_, err = exec.Exec(ctx, query,
		record.ID,
		record.JobID,
		string(record.Operation),
		record.Success,
		nullString(record.Error),
		missing,
		stale,
		record.AssignedCount,
		record.Unscheduled,
		nullString(record.Strategy),
		nullString(record.CorrelationID),
		record.CreatedAt,
	)
	return errors.Wrapf(err, "insert sync record for job %s", record.JobID)
}

// FindByJob returns the newest records for a job, newest first.
func (r *PostgresSyncRecordRepository) FindByJob(ctx context.Context, jobID string, limit int) ([]*domain.SyncRecord, error) {
	query := `
		SELECT ` + postgresSelectColumns + `
		FROM sync_records
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.query(ctx, query, jobID, limit)
}

// FindRecentFailures returns failed records created after since, newest first.
func (r *PostgresSyncRecordRepository) FindRecentFailures(ctx context.Context, since time.Time, limit int) ([]*domain.SyncRecord, error) {
	query := `
		SELECT ` + postgresSelectColumns + `
		FROM sync_records
		WHERE NOT success AND created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.query(ctx, query, since, limit)
}

// DeleteOlderThan prunes records older than age.
func (r *PostgresSyncRecordRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	result, err := r.conn.Exec(ctx, `DELETE FROM sync_records WHERE created_at < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, errors.Wrap(err, "delete old sync records")
	}
	return result.RowsAffected()
}

// postgresSelectColumns casts the JSONB lists to text for scanning.
const postgresSelectColumns = `id, job_id, operation, success, error, missing::text, stale::text,
	assigned_count, unscheduled, strategy, correlation_id, created_at`

func (r *PostgresSyncRecordRepository) query(ctx context.Context, query string, args ...any) ([]*domain.SyncRecord, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query sync records")
	}
	defer rows.Close()

	var records []*domain.SyncRecord
	for rows.Next() {
		var (
			rec           domain.SyncRecord
			operation     string
			errMsg        *string
			missing       string
			stale         string
			strategy      *string
			correlationID *string
		)
		err := rows.Scan(
			&rec.ID, &rec.JobID, &operation, &rec.Success, &errMsg, &missing, &stale,
			&rec.AssignedCount, &rec.Unscheduled, &strategy, &correlationID, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := decodeIDLists(&rec, []byte(missing), []byte(stale)); err != nil {
			return nil, err
		}
		rec.Operation = domain.Operation(operation)
		rec.Error = deref(errMsg)
		rec.Strategy = deref(strategy)
		rec.CorrelationID = deref(correlationID)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
