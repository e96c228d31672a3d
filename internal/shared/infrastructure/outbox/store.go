package outbox

import (
	"context"
	"database/sql/driver"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database"
)

// Repository stores outbox rows. Save joins the transaction carried by ctx
// so a row commits together with the state change it announces.
type Repository interface {
	Save(ctx context.Context, msg *Message) error
	// GetUnpublished returns due rows, oldest first, skipping dead letters
	// and rows whose next retry is still in the future.
	GetUnpublished(ctx context.Context, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, id int64) error
	// MarkFailed bumps the retry count and schedules the next attempt.
	MarkFailed(ctx context.Context, id int64, reason string, nextRetryAt time.Time) error
	MarkDead(ctx context.Context, id int64, reason string) error
	// DeleteOld drops published rows older than olderThan.
	DeleteOld(ctx context.Context, olderThan time.Duration) (int64, error)
}

// timeLayout is fixed width so SQLite's TEXT timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// dialect captures what differs between the outbox tables.
type dialect struct {
	// numbered placeholders ($1) instead of ?.
	numbered bool
	// textTimes stores timestamps as fixed-layout TEXT.
	textTimes bool
	// jsonCast reads JSONB columns as text.
	jsonCast string
}

var (
	postgresDialect = dialect{numbered: true, jsonCast: "::text"}
	sqliteDialect   = dialect{textTimes: true}
)

func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) time(t time.Time) any {
	if d.textTimes {
		return t.UTC().Format(timeLayout)
	}
	return t
}

func (d dialect) id(id uuid.UUID) any {
	if d.textTimes {
		return id.String()
	}
	return id
}

// store is the Repository shared by both drivers.
type store struct {
	conn database.Connection
	d    dialect
	now  func() time.Time
}

// SQLiteRepository is the outbox on the local database.
type SQLiteRepository struct{ *store }

func NewSQLiteRepository(conn database.Connection) *SQLiteRepository {
	return &SQLiteRepository{&store{conn: conn, d: sqliteDialect, now: time.Now}}
}

// PostgresRepository is the outbox on a shared PostgreSQL database.
type PostgresRepository struct{ *store }

func NewPostgresRepository(conn database.Connection) *PostgresRepository {
	return &PostgresRepository{&store{conn: conn, d: postgresDialect, now: time.Now}}
}

// Save inserts msg inside the caller's transaction, if any, and sets msg.ID.
func (s *store) Save(ctx context.Context, msg *Message) error {
	var metadata any
	if len(msg.Metadata) > 0 {
		metadata = string(msg.Metadata)
	}
	query := s.d.bind(`INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, routing_key, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	err := database.ExecutorFromContext(ctx, s.conn).QueryRow(ctx, query,
		s.d.id(msg.EventID), msg.AggregateType, msg.AggregateID, msg.EventType, msg.RoutingKey,
		string(msg.Payload), metadata, s.d.time(msg.CreatedAt),
	).Scan(&msg.ID)
	return errors.Wrapf(err, "insert outbox message %s", msg.EventID)
}

// GetUnpublished returns due messages, oldest first.
func (s *store) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	query := s.d.bind(`SELECT id, event_id, aggregate_type, aggregate_id, event_type, routing_key,
			payload` + s.d.jsonCast + `, metadata` + s.d.jsonCast + `, created_at, published_at, next_retry_at,
			retry_count, last_error, dead_lettered_at, dead_letter_reason
		FROM outbox
		WHERE published_at IS NULL AND dead_lettered_at IS NULL
			AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`)

	rows, err := s.conn.Query(ctx, query, s.d.time(s.now()), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query unpublished outbox")
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *store) MarkPublished(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE outbox SET published_at = ?, dead_lettered_at = NULL WHERE id = ?`,
		s.d.time(s.now()), id)
}

func (s *store) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	return s.exec(ctx, `UPDATE outbox SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ? WHERE id = ?`,
		errMsg, s.d.time(nextRetryAt), id)
}

func (s *store) MarkDead(ctx context.Context, id int64, reason string) error {
	return s.exec(ctx, `UPDATE outbox SET dead_lettered_at = ?, dead_letter_reason = ? WHERE id = ?`,
		s.d.time(s.now()), reason, id)
}

// DeleteOld removes messages published before the retention window.
func (s *store) DeleteOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.conn.Exec(ctx, s.d.bind(`DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < ?`),
		s.d.time(s.now().Add(-olderThan)))
	if err != nil {
		return 0, errors.Wrap(err, "delete published outbox")
	}
	return res.RowsAffected()
}

func (s *store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.conn.Exec(ctx, s.d.bind(query), args...)
	return err
}

func scanMessage(rows database.Rows) (*Message, error) {
	var (
		msg                                 Message
		payload                             string
		metadata, lastErr, reason           nullString
		created, published, retryAt, deadAt nullTime
	)
	err := rows.Scan(
		&msg.ID, &msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.RoutingKey,
		&payload, &metadata, &created, &published, &retryAt,
		&msg.RetryCount, &lastErr, &deadAt, &reason,
	)
	if err != nil {
		return nil, errors.Wrap(err, "scan outbox message")
	}

	msg.Payload = []byte(payload)
	if metadata.Valid {
		msg.Metadata = []byte(metadata.String)
	}
	msg.CreatedAt = created.Time
	msg.PublishedAt = published.ptr()
	msg.NextRetryAt = retryAt.ptr()
	msg.DeadLetteredAt = deadAt.ptr()
	msg.LastError = lastErr.ptr()
	msg.DeadLetterReason = reason.ptr()
	return &msg, nil
}

// nullTime scans TIMESTAMPTZ values and SQLite TEXT timestamps alike.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	var err error
	switch v := src.(type) {
	case nil:
		*n = nullTime{}
		return nil
	case time.Time:
		n.Time = v
	case string:
		n.Time, err = time.Parse(timeLayout, v)
	case []byte:
		n.Time, err = time.Parse(timeLayout, string(v))
	default:
		return errors.Newf("unsupported timestamp type %T", src)
	}
	n.Valid = err == nil
	return err
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

type nullString struct {
	String string
	Valid  bool
}

func (n *nullString) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = nullString{}
	case string:
		*n = nullString{String: v, Valid: true}
	case []byte:
		*n = nullString{String: string(v), Valid: true}
	default:
		s, err := driver.String.ConvertValue(v)
		if err != nil {
			return err
		}
		*n = nullString{String: s.(string), Valid: true}
	}
	return nil
}

func (n nullString) ptr() *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}
