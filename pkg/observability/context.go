package observability

import (
	"context"

	"github.com/google/uuid"
)

type (
	correlationKey struct{}
	requestKey     struct{}
	jobKey         struct{}
)

// Log attribute keys added from context.
const (
	CorrelationIDKey = "correlation_id"
	RequestIDKey     = "request_id"
	JobIDKey         = "job_id"
)

// WithCorrelationID tags ctx with the id that ties an outcome, its sync record
// and its event together. An empty id generates one.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationKey{})
}

// WithRequestID tags ctx with a per-request id. An empty id generates one.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestKey{})
}

// WithJobID tags ctx with the FSM job being synced.
func WithJobID(ctx context.Context, jobID string) context.Context {
	if jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKey{}, jobID)
}

func JobIDFromContext(ctx context.Context) string {
	return stringValue(ctx, jobKey{})
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}
