package domain_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/stretchr/testify/assert"
)

func TestOutcome_FailWithMismatch(t *testing.T) {
	o := domain.NewOutcome("job-1", domain.OperationReconcile)
	o.Fail(&domain.VerificationMismatch{Missing: []string{"u1"}, Stale: []string{"u9"}, AssignedCount: 1})

	assert.False(t, o.Success)
	assert.True(t, o.SoftFailure())
	assert.Equal(t, []string{"u1"}, o.Missing)
	assert.Equal(t, []string{"u9"}, o.Stale)
	assert.Equal(t, 1, o.AssignedCount)
	assert.Contains(t, o.Warning(), "scheduled locally, external sync issue")
	assert.Contains(t, o.Error, "missing users [u1]")
}

func TestOutcome_FailWithTransport(t *testing.T) {
	o := domain.NewOutcome("job-1", domain.OperationUnschedule)
	o.Fail(&domain.TransportError{Op: "get job", Timeout: true, Err: errors.New("deadline exceeded")})

	assert.False(t, o.SoftFailure())
	assert.True(t, domain.IsTimeout(o.Err))
	assert.Contains(t, o.Warning(), "unscheduled locally")
}

func TestOutcome_Succeed(t *testing.T) {
	o := domain.NewOutcome("job-1", domain.OperationCreate)
	o.Fail(errors.New("boom"))
	o.Succeed()

	assert.True(t, o.Success)
	assert.Empty(t, o.Error)
	assert.Empty(t, o.Warning())
}

func TestErrorClassification(t *testing.T) {
	wrapped := errors.Wrap(&domain.ApplicationError{Op: "assign", StatusCode: 422, Message: "bad team"}, "reconcile")

	assert.True(t, domain.IsApplication(wrapped))
	assert.False(t, domain.IsTransport(wrapped))
	assert.False(t, domain.IsTimeout(wrapped))
	assert.True(t, domain.IsResolutionFailure(&domain.ResolutionFailure{Kind: "user", Name: "Ana"}))
	assert.Equal(t, `user "Ana" not found`, (&domain.ResolutionFailure{Kind: "user", Name: "Ana"}).Error())
}

func TestNewSyncEvent_RoutingKeys(t *testing.T) {
	ok := domain.NewOutcome("job-1", domain.OperationUnschedule).Succeed()
	assert.Equal(t, domain.RoutingKeyJobUnscheduled, domain.NewSyncEvent(ok, "corr").RoutingKey)

	soft := domain.NewOutcome("job-1", domain.OperationReschedule).Fail(&domain.VerificationMismatch{Missing: []string{"u1"}})
	assert.Equal(t, domain.RoutingKeyJobSyncMismatch, domain.NewSyncEvent(soft, "").RoutingKey)

	hard := domain.NewOutcome("job-1", domain.OperationCreate).Fail(&domain.TransportError{Op: "create", Err: errors.New("refused")})
	ev := domain.NewSyncEvent(hard, "corr-1")
	assert.Equal(t, domain.RoutingKeyJobSyncFailed, ev.RoutingKey)
	assert.Equal(t, "corr-1", ev.CorrelationID)
}
