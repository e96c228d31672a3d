package observability

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the state of one component or of the whole process.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// rank orders statuses from best to worst.
func (s HealthStatus) rank() int {
	switch s {
	case HealthStatusUnhealthy:
		return 2
	case HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}

// HealthCheckResult is the result of one check.
type HealthCheckResult struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthChecker probes one component.
type HealthChecker func(ctx context.Context) HealthCheckResult

// OverallHealth is the worst component status plus every result.
type OverallHealth struct {
	Status    HealthStatus                 `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Checks    map[string]HealthCheckResult `json:"checks"`
}

// HealthRegistry holds the checks for the database, the brokers and the FSM.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: map[string]HealthChecker{}}
}

// Register adds or replaces a check.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check runs every check concurrently.
func (r *HealthRegistry) Check(ctx context.Context) map[string]HealthCheckResult {
	r.mu.RLock()
	checkers := make(map[string]HealthChecker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]HealthCheckResult, len(checkers))
		g       errgroup.Group
	)
	for name, check := range checkers {
		g.Go(func() error {
			start := time.Now()
			res := check(ctx)
			res.Duration = time.Since(start)
			res.Timestamp = time.Now()
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// GetOverallHealth runs every check and folds them into one status.
// An empty registry is healthy.
func (r *HealthRegistry) GetOverallHealth(ctx context.Context) OverallHealth {
	checks := r.Check(ctx)
	status := HealthStatusHealthy
	for _, res := range checks {
		if res.Status.rank() > status.rank() {
			status = res.Status
		}
	}
	return OverallHealth{Status: status, Timestamp: time.Now(), Checks: checks}
}

// PingChecker reports healthy when ping succeeds and onError otherwise.
func PingChecker(component string, onError HealthStatus, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := ping(ctx); err != nil {
			return HealthCheckResult{Status: onError, Message: component + " unreachable: " + err.Error()}
		}
		return HealthCheckResult{Status: HealthStatusHealthy, Message: component + " reachable"}
	}
}

// DatabaseHealthChecker fails the process: without the sync-record store no
// outcome can be recorded.
func DatabaseHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return PingChecker("database", HealthStatusUnhealthy, ping)
}

// RedisHealthChecker degrades: Redis only warms the name cache.
func RedisHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return PingChecker("redis", HealthStatusDegraded, ping)
}

// RabbitMQHealthChecker degrades: the outbox holds events until the broker returns.
func RabbitMQHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return PingChecker("rabbitmq", HealthStatusDegraded, ping)
}

// BreakerHealthChecker degrades while a circuit breaker is open.
func BreakerHealthChecker(component string, state func() string) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		s := state()
		res := HealthCheckResult{
			Status:  HealthStatusHealthy,
			Message: component + " reachable",
			Details: map[string]any{"breaker": s},
		}
		if s == "open" {
			res.Status = HealthStatusDegraded
			res.Message = component + " circuit breaker open"
		}
		return res
	}
}
