// Package directory resolves crew and team display names to FSM identifiers.
package directory

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a directory snapshot is served before a refetch.
const DefaultTTL = 10 * time.Minute

const refreshKey = "directory"

// TeamLister lists every FSM team together with its members.
type TeamLister interface {
	ListTeams(ctx context.Context) ([]domain.Team, error)
}

// UserRef is a resolved user with the team they are listed under.
type UserRef struct {
	UserID string `json:"user_id"`
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
}

// Snapshot is one complete, immutable view of the directory.
type Snapshot struct {
	Users     map[string]UserRef `json:"users"`
	Teams     map[string]string  `json:"teams"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithReservedPrefix excludes teams whose name starts with prefix.
func WithReservedPrefix(prefix string) Option {
	return func(c *Cache) { c.reservedPrefix = normalize(prefix) }
}

// WithSnapshotStore persists snapshots so a cold process can start warm.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(c *Cache) { c.store = store }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m observability.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is a TTL-bound name directory. Reads never block on a lock; a refresh
// is shared by every caller that arrives while it is in flight, and a failed
// refresh keeps serving the last good snapshot.
type Cache struct {
	lister         TeamLister
	ttl            time.Duration
	reservedPrefix string
	store          SnapshotStore
	logger         *slog.Logger
	metrics        observability.Metrics
	now            func() time.Time

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
}

// NewCache creates a directory cache. A non-positive ttl uses DefaultTTL.
func NewCache(lister TeamLister, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		lister:  lister,
		ttl:     ttl,
		logger:  logger,
		metrics: observability.NoopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveUser maps a person's display name or email to a user.
func (c *Cache) ResolveUser(ctx context.Context, name string) (UserRef, bool) {
	snap := c.snapshot(ctx)
	if snap != nil {
		if ref, ok := snap.Users[normalize(name)]; ok {
			return ref, true
		}
	}
	c.miss(ctx, "user", name)
	return UserRef{}, false
}

// ResolveTeam maps a team display name to its id.
func (c *Cache) ResolveTeam(ctx context.Context, name string) (string, bool) {
	snap := c.snapshot(ctx)
	if snap != nil {
		if id, ok := snap.Teams[normalize(name)]; ok {
			return id, true
		}
	}
	c.miss(ctx, "team", name)
	return "", false
}

// ResolveCrew resolves each name as a person first and a team second. The
// first team seen becomes the crew's team. Unresolved names are returned in
// Missing so the caller can decide whether to proceed.
func (c *Cache) ResolveCrew(ctx context.Context, names []string) domain.CrewResolution {
	var res domain.CrewResolution
	snap := c.snapshot(ctx)
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		key := normalize(name)
		if key == "" {
			continue
		}
		if snap != nil {
			if ref, ok := snap.Users[key]; ok {
				if _, dup := seen[ref.UserID]; !dup {
					seen[ref.UserID] = struct{}{}
					res.UserIDs = append(res.UserIDs, ref.UserID)
				}
				if res.TeamID == "" {
					res.TeamID = ref.TeamID
				}
				continue
			}
			if id, ok := snap.Teams[key]; ok {
				if res.TeamID == "" {
					res.TeamID = id
				}
				continue
			}
		}
		c.miss(ctx, "crew", name)
		res.Missing = append(res.Missing, name)
	}
	return res
}

// Invalidate marks the current snapshot stale. It keeps being served until
// the next refresh succeeds.
func (c *Cache) Invalidate() {
	for {
		cur := c.current.Load()
		if cur == nil {
			return
		}
		stale := *cur
		stale.FetchedAt = time.Time{}
		if c.current.CompareAndSwap(cur, &stale) {
			return
		}
	}
}

// Refresh fetches a new snapshot now, sharing any refresh already in flight.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx, true)
	return err
}

// Snapshot returns the snapshot currently served, which may be nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Cache) snapshot(ctx context.Context) *Snapshot {
	cur := c.current.Load()
	if c.fresh(cur) {
		return cur
	}
	snap, err := c.refresh(ctx, false)
	if err != nil {
		c.logger.WarnContext(ctx, "directory refresh failed, serving previous snapshot",
			"error", err,
			"has_previous", cur != nil,
		)
		return c.current.Load()
	}
	return snap
}

func (c *Cache) fresh(s *Snapshot) bool {
	return s != nil && c.now().Sub(s.FetchedAt) < c.ttl
}

func (c *Cache) refresh(ctx context.Context, force bool) (*Snapshot, error) {
	// The shared fetch must not die with whichever caller started it.
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		// A flight that finished just before this one started already did the work.
		if cur := c.current.Load(); !force && c.fresh(cur) {
			return cur, nil
		}
		return c.load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Snapshot), nil
	}
}

func (c *Cache) load(ctx context.Context) (*Snapshot, error) {
	teams, err := c.lister.ListTeams(ctx)
	if err != nil {
		c.metrics.Counter(observability.MetricNameCacheRefresh, 1, observability.T("status", "error"))
		if c.current.Load() == nil {
			if warm := c.loadStored(ctx); warm != nil {
				return warm, nil
			}
		}
		return nil, errors.Wrap(err, "list teams")
	}

	snap := c.build(teams)
	c.current.Store(snap)
	c.metrics.Counter(observability.MetricNameCacheRefresh, 1, observability.T("status", "ok"))
	c.metrics.Gauge(observability.MetricNameCacheEntries, float64(len(snap.Teams)), observability.T("kind", "team"))
	c.metrics.Gauge(observability.MetricNameCacheEntries, float64(len(snap.Users)), observability.T("kind", "user"))
	c.logger.DebugContext(ctx, "directory refreshed",
		"teams", len(snap.Teams),
		"users", len(snap.Users),
	)

	if c.store != nil {
		if err := c.store.Save(ctx, snap); err != nil {
			c.logger.WarnContext(ctx, "failed to persist directory snapshot", "error", err)
		}
	}
	return snap, nil
}

// loadStored installs a persisted snapshot into a cold cache. It is served
// as stale so the next lookup tries the FSM again.
func (c *Cache) loadStored(ctx context.Context) *Snapshot {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Load(ctx)
	if err != nil || snap == nil {
		if err != nil {
			c.logger.WarnContext(ctx, "failed to load stored directory snapshot", "error", err)
		}
		return nil
	}
	snap.FetchedAt = time.Time{}
	if c.current.CompareAndSwap(nil, snap) {
		c.logger.InfoContext(ctx, "directory warmed from stored snapshot")
	}
	return c.current.Load()
}

func (c *Cache) build(teams []domain.Team) *Snapshot {
	snap := &Snapshot{
		Users:     make(map[string]UserRef),
		Teams:     make(map[string]string),
		FetchedAt: c.now(),
	}
	for _, team := range teams {
		name := normalize(team.Name)
		if c.reservedPrefix != "" && strings.HasPrefix(name, c.reservedPrefix) {
			continue
		}
		if _, ok := snap.Teams[name]; !ok && name != "" {
			snap.Teams[name] = team.ID
		}
		for _, m := range team.Members {
			ref := UserRef{UserID: m.UserID, TeamID: team.ID, Name: m.FullName()}
			for _, key := range []string{normalize(m.FullName()), normalize(m.Email)} {
				if key == "" {
					continue
				}
				if _, ok := snap.Users[key]; !ok {
					snap.Users[key] = ref
				}
			}
		}
	}
	return snap
}

func (c *Cache) miss(ctx context.Context, kind, name string) {
	c.metrics.Counter(observability.MetricNameCacheMiss, 1, observability.T("kind", kind))
	c.logger.WarnContext(ctx, "name resolution failed",
		"error", &domain.ResolutionFailure{Kind: kind, Name: name},
	)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
