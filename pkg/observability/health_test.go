package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pingOK(context.Context) error { return nil }
func pingDown(context.Context) error { return errors.New("connection refused") }

func TestHealthRegistry_EmptyIsHealthy(t *testing.T) {
	h := NewHealthRegistry().GetOverallHealth(context.Background())
	assert.Equal(t, HealthStatusHealthy, h.Status)
	assert.Empty(t, h.Checks)
}

func TestHealthRegistry_WorstStatusWins(t *testing.T) {
	tests := []struct {
		name  string
		redis func(context.Context) error
		db    func(context.Context) error
		want  HealthStatus
	}{
		{name: "all up", redis: pingOK, db: pingOK, want: HealthStatusHealthy},
		{name: "redis down degrades", redis: pingDown, db: pingOK, want: HealthStatusDegraded},
		{name: "database down fails", redis: pingDown, db: pingDown, want: HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHealthRegistry()
			r.Register("redis", RedisHealthChecker(tt.redis))
			r.Register("database", DatabaseHealthChecker(tt.db))
			r.Register("rabbitmq", RabbitMQHealthChecker(pingOK))

			h := r.GetOverallHealth(context.Background())
			assert.Equal(t, tt.want, h.Status)
			require.Len(t, h.Checks, 3)
			assert.False(t, h.Checks["database"].Timestamp.IsZero())
		})
	}
}

func TestPingChecker_Message(t *testing.T) {
	res := RedisHealthChecker(pingDown)(context.Background())
	assert.Equal(t, HealthStatusDegraded, res.Status)
	assert.Equal(t, "redis unreachable: connection refused", res.Message)
}

func TestBreakerHealthChecker(t *testing.T) {
	state := "closed"
	check := BreakerHealthChecker("fsm", func() string { return state })

	res := check(context.Background())
	assert.Equal(t, HealthStatusHealthy, res.Status)
	assert.Equal(t, "closed", res.Details["breaker"])

	state = "open"
	res = check(context.Background())
	assert.Equal(t, HealthStatusDegraded, res.Status)
	assert.Equal(t, "fsm circuit breaker open", res.Message)
}
