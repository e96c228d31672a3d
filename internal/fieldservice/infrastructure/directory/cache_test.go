package directory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeLister struct {
	calls atomic.Int32
	gate  chan struct{}

	mu    sync.Mutex
	teams []domain.Team
	err   error
}

func (f *fakeLister) ListTeams(ctx context.Context) ([]domain.Team, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teams, f.err
}

func (f *fakeLister) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sampleTeams() []domain.Team {
	return []domain.Team{
		{
			ID:   "t-north",
			Name: "Install Crew North",
			Members: []domain.Member{
				{UserID: "u-ana", FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com"},
				{UserID: "u-ben", FirstName: "Ben", LastName: "Ortiz"},
			},
		},
		{
			ID:   "t-office",
			Name: "Back Office Schedulers",
			Members: []domain.Member{
				{UserID: "u-dee", FirstName: "Dee", LastName: "Park"},
			},
		},
		{
			ID:   "t-survey",
			Name: "Survey Team",
			Members: []domain.Member{
				{UserID: "u-cal", FirstName: "Cal", LastName: "Reyes"},
				{UserID: "u-ana", FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com"},
			},
		},
	}
}

func newTestCache(lister TeamLister, clock *fakeClock, opts ...Option) *Cache {
	opts = append([]Option{WithReservedPrefix("Back Office"), WithClock(clock.Now)}, opts...)
	return NewCache(lister, 10*time.Minute, nil, opts...)
}

func TestCache_ConcurrentColdLookupsShareOneFetch(t *testing.T) {
	lister := &fakeLister{teams: sampleTeams(), gate: make(chan struct{})}
	cache := newTestCache(lister, &fakeClock{now: time.Now()})

	const callers = 32
	var wg sync.WaitGroup
	results := make([]UserRef, callers)
	found := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], found[i] = cache.ResolveUser(context.Background(), "Ana Lopez")
		}(i)
	}

	require.Eventually(t, func() bool { return lister.calls.Load() >= 1 }, time.Second, time.Millisecond)
	close(lister.gate)
	wg.Wait()

	assert.Equal(t, int32(1), lister.calls.Load())
	for i := 0; i < callers; i++ {
		assert.True(t, found[i])
		assert.Equal(t, "u-ana", results[i].UserID)
	}
}

func TestCache_RefetchesAfterTTL(t *testing.T) {
	lister := &fakeLister{teams: sampleTeams()}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	cache := newTestCache(lister, clock)
	ctx := context.Background()

	_, ok := cache.ResolveTeam(ctx, "Survey Team")
	require.True(t, ok)
	clock.Advance(9 * time.Minute)
	_, _ = cache.ResolveTeam(ctx, "Survey Team")
	assert.Equal(t, int32(1), lister.calls.Load())

	clock.Advance(2 * time.Minute)
	_, _ = cache.ResolveTeam(ctx, "Survey Team")
	assert.Equal(t, int32(2), lister.calls.Load())
}

func TestCache_FailedRefreshKeepsLastGoodSnapshot(t *testing.T) {
	lister := &fakeLister{teams: sampleTeams()}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(lister, clock)
	ctx := context.Background()

	_, ok := cache.ResolveUser(ctx, "Ben Ortiz")
	require.True(t, ok)
	before := cache.Snapshot()

	lister.fail(errors.New("fsm unavailable"))
	clock.Advance(time.Hour)

	ref, ok := cache.ResolveUser(ctx, "Ben Ortiz")
	require.True(t, ok)
	assert.Equal(t, "u-ben", ref.UserID)
	assert.Same(t, before, cache.Snapshot())
	assert.Equal(t, int32(2), lister.calls.Load())
}

func TestCache_InvalidateForcesRefetch(t *testing.T) {
	lister := &fakeLister{teams: sampleTeams()}
	cache := newTestCache(lister, &fakeClock{now: time.Now()})
	ctx := context.Background()

	cache.Invalidate() // no-op while cold
	_, _ = cache.ResolveTeam(ctx, "survey team")
	cache.Invalidate()
	_, _ = cache.ResolveTeam(ctx, "survey team")
	assert.Equal(t, int32(2), lister.calls.Load())
}

func TestCache_ReservedTeamsAreExcluded(t *testing.T) {
	cache := newTestCache(&fakeLister{teams: sampleTeams()}, &fakeClock{now: time.Now()})
	ctx := context.Background()

	_, ok := cache.ResolveTeam(ctx, "Back Office Schedulers")
	assert.False(t, ok)
	_, ok = cache.ResolveUser(ctx, "Dee Park")
	assert.False(t, ok)
}

func TestCache_ResolveUserNormalizesNames(t *testing.T) {
	cache := newTestCache(&fakeLister{teams: sampleTeams()}, &fakeClock{now: time.Now()})
	ctx := context.Background()

	ref, ok := cache.ResolveUser(ctx, "  ana   LOPEZ ")
	require.True(t, ok)
	assert.Equal(t, "t-north", ref.TeamID, "first listing wins")

	ref, ok = cache.ResolveUser(ctx, "ANA@example.com")
	require.True(t, ok)
	assert.Equal(t, "u-ana", ref.UserID)
}

func TestCache_ResolveCrew(t *testing.T) {
	metrics := observability.NewInMemoryMetrics()
	cache := newTestCache(&fakeLister{teams: sampleTeams()}, &fakeClock{now: time.Now()}, WithMetrics(metrics))

	res := cache.ResolveCrew(context.Background(), []string{"Survey Team", "Cal Reyes", "Nobody Here", "cal reyes", ""})

	assert.Equal(t, []string{"u-cal"}, res.UserIDs)
	assert.Equal(t, "t-survey", res.TeamID)
	assert.Equal(t, []string{"Nobody Here"}, res.Missing)
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricNameCacheMiss, observability.T("kind", "crew")))
	assert.Greater(t, metrics.GetGauge(observability.MetricNameCacheEntries, observability.T("kind", "team")), 0.0)
	assert.Greater(t, metrics.GetGauge(observability.MetricNameCacheEntries, observability.T("kind", "user")), 0.0)
}

func TestCache_ColdStartWarmsFromStore(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	seed := newTestCache(&fakeLister{teams: sampleTeams()}, &fakeClock{now: time.Now()}, WithSnapshotStore(store))
	require.NoError(t, seed.Refresh(ctx))

	down := &fakeLister{err: errors.New("fsm unavailable")}
	cache := newTestCache(down, &fakeClock{now: time.Now()}, WithSnapshotStore(store))

	ref, ok := cache.ResolveUser(ctx, "Cal Reyes")
	require.True(t, ok)
	assert.Equal(t, "u-cal", ref.UserID)
	assert.True(t, cache.Snapshot().FetchedAt.IsZero(), "warm snapshot stays stale")
}

func TestCache_ColdFailureWithoutStoreResolvesNothing(t *testing.T) {
	cache := newTestCache(&fakeLister{err: errors.New("boom")}, &fakeClock{now: time.Now()})

	_, ok := cache.ResolveUser(context.Background(), "Ana Lopez")
	assert.False(t, ok)
	assert.Error(t, cache.Refresh(context.Background()))
}

func TestCache_CallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	lister := &fakeLister{teams: sampleTeams(), gate: make(chan struct{})}
	cache := newTestCache(lister, &fakeClock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := cache.ResolveUser(ctx, "Ana Lopez")
		assert.False(t, ok)
	}()

	require.Eventually(t, func() bool { return lister.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	close(lister.gate)
	require.Eventually(t, func() bool { return cache.Snapshot() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), lister.calls.Load())
}
