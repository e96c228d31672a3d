package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database"
)

// sqliteTimeLayout is fixed width so created_at compares lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

const syncRecordColumns = `id, job_id, operation, success, error, missing, stale,
	assigned_count, unscheduled, strategy, correlation_id, created_at`

// SQLiteSyncRecordRepository implements SyncRecordRepository using SQLite.
type SQLiteSyncRecordRepository struct {
	conn database.Connection
	now  func() time.Time
}

// NewSQLiteSyncRecordRepository creates a new SQLite sync record repository.
func NewSQLiteSyncRecordRepository(conn database.Connection) *SQLiteSyncRecordRepository {
	return &SQLiteSyncRecordRepository{conn: conn, now: time.Now}
}

// Save appends a record.
func (r *SQLiteSyncRecordRepository) Save(ctx context.Context, record *domain.SyncRecord) error {
	query := `
		INSERT INTO sync_records (` + syncRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	missing, stale, err := encodeIDLists(record)
	if err != nil {
		return err
	}

	exec := database.ExecutorFromContext(ctx, r.conn)
	_, err = exec.Exec(ctx, query,
		record.ID.String(),
		record.JobID,
		string(record.Operation),
		boolToInt(record.Success),
		nullString(record.Error),
		missing,
		stale,
		record.AssignedCount,
		boolToInt(record.Unscheduled),
		nullString(record.Strategy),
		nullString(record.CorrelationID),
		record.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	return errors.Wrapf(err, "insert sync record for job %s", record.JobID)
}

// FindByJob returns the newest records for a job, newest first.
func (r *SQLiteSyncRecordRepository) FindByJob(ctx context.Context, jobID string, limit int) ([]*domain.SyncRecord, error) {
	query := `
		SELECT ` + syncRecordColumns + `
		FROM sync_records
		WHERE job_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	return r.query(ctx, query, jobID, limit)
}

// FindRecentFailures returns failed records created after since, newest first.
func (r *SQLiteSyncRecordRepository) FindRecentFailures(ctx context.Context, since time.Time, limit int) ([]*domain.SyncRecord, error) {
	query := `
		SELECT ` + syncRecordColumns + `
		FROM sync_records
		WHERE success = 0 AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	return r.query(ctx, query, since.UTC().Format(sqliteTimeLayout), limit)
}

// DeleteOlderThan prunes records older than age.
func (r *SQLiteSyncRecordRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := r.now().Add(-age).UTC().Format(sqliteTimeLayout)
	result, err := r.conn.Exec(ctx, `DELETE FROM sync_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delete old sync records")
	}
	return result.RowsAffected()
}

func (r *SQLiteSyncRecordRepository) query(ctx context.Context, query string, args ...any) ([]*domain.SyncRecord, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query sync records")
	}
	defer rows.Close()

	var records []*domain.SyncRecord
	for rows.Next() {
		record, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanSQLiteRecord(rows database.Rows) (*domain.SyncRecord, error) {
	var (
		rec           domain.SyncRecord
		idStr         string
		operation     string
		success       int
		errMsg        sql.NullString
		missing       string
		stale         string
		unscheduled   int
		strategy      sql.NullString
		correlationID sql.NullString
		createdAtStr  string
	)

	err := rows.Scan(
		&idStr, &rec.JobID, &operation, &success, &errMsg, &missing, &stale,
		&rec.AssignedCount, &unscheduled, &strategy, &correlationID, &createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	if rec.ID, err = uuid.Parse(idStr); err != nil {
		return nil, errors.Wrapf(err, "sync record id %q", idStr)
	}
	if rec.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAtStr); err != nil {
		return nil, errors.Wrapf(err, "sync record %s created_at", idStr)
	}
	if err := decodeIDLists(&rec, []byte(missing), []byte(stale)); err != nil {
		return nil, err
	}

	rec.Operation = domain.Operation(operation)
	rec.Success = success != 0
	rec.Unscheduled = unscheduled != 0
	rec.Error = errMsg.String
	rec.Strategy = strategy.String
	rec.CorrelationID = correlationID.String
	return &rec, nil
}

// encodeIDLists renders Missing and Stale as JSON arrays, never null.
func encodeIDLists(record *domain.SyncRecord) (string, string, error) {
	missing, err := json.Marshal(nonNil(record.Missing))
	if err != nil {
		return "", "", errors.Wrap(err, "encode missing ids")
	}
	stale, err := json.Marshal(nonNil(record.Stale))
	if err != nil {
		return "", "", errors.Wrap(err, "encode stale ids")
	}
	return string(missing), string(stale), nil
}

func decodeIDLists(rec *domain.SyncRecord, missing, stale []byte) error {
	if len(missing) > 0 {
		if err := json.Unmarshal(missing, &rec.Missing); err != nil {
			return errors.Wrap(err, "decode missing ids")
		}
	}
	if len(stale) > 0 {
		if err := json.Unmarshal(stale, &rec.Stale); err != nil {
			return errors.Wrap(err, "decode stale ids")
		}
	}
	if len(rec.Missing) == 0 {
		rec.Missing = nil
	}
	if len(rec.Stale) == 0 {
		rec.Stale = nil
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
