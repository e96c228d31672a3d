package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

type fakeJob struct {
	id       string
	category domain.Category
	start    *time.Time
	end      *time.Time
	due      *time.Time
	users    []string
	teams    map[string]string
	teamIDs  []string
	opaque   bool
	unparsed map[string]bool
	status   domain.JobStatus
	history  []domain.JobStatus
}

// fakeFSM is an in-memory FSM with switchable tenant quirks.
type fakeFSM struct {
	mu sync.Mutex

	jobs      map[string]*fakeJob
	members   map[string][]domain.Member
	userTeams map[string]string
	nextID    int

	// tenant behaviour
	flagClears        bool
	nullClears        bool
	zeroLengthClear   bool
	requireDueToClear bool
	replaceClears     bool
	ignoreReschedule  bool
	stickyOnce        map[string]bool
	stickyAlways      map[string]bool
	failGet           error
	failStatusUpdate  error

	calls         []string
	assignBatches [][]domain.AssignmentChange
	clearDues     []*time.Time
	statusByID    []string
	statusByName  []string
	created       []domain.NewJob
}

func newFakeFSM() *fakeFSM {
	return &fakeFSM{
		jobs:         make(map[string]*fakeJob),
		members:      make(map[string][]domain.Member),
		userTeams:    make(map[string]string),
		flagClears:   true,
		nullClears:   true,
		stickyOnce:   make(map[string]bool),
		stickyAlways: make(map[string]bool),
	}
}

func (f *fakeFSM) addJob(j *fakeJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j.teams == nil {
		j.teams = make(map[string]string)
	}
	f.jobs[j.id] = j
}

func (f *fakeFSM) usersOf(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.jobs[id].users...)
}

func (f *fakeFSM) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeFSM) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c != "GetJob" && c != "TeamMembers" && c != "UserTeam" {
			n++
		}
	}
	return n
}

func (f *fakeFSM) job(id string) (*fakeJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, &domain.ApplicationError{Op: "get_job", StatusCode: http.StatusNotFound, Message: "no such job"}
	}
	return j, nil
}

func (f *fakeFSM) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetJob")
	if f.failGet != nil {
		return nil, f.failGet
	}
	j, err := f.job(id)
	if err != nil {
		return nil, err
	}
	job := &domain.Job{
		ID:            j.id,
		Category:      j.category,
		Start:         j.start,
		End:           j.end,
		DueDate:       j.due,
		AssignedCount: len(j.users),
		TeamIDs:       append([]string(nil), j.teamIDs...),
		Status:        j.status,
		StatusHistory: append([]domain.JobStatus(nil), j.history...),
	}
	if !j.opaque {
		for _, u := range j.users {
			if j.unparsed[u] {
				continue
			}
			job.Assignments = append(job.Assignments, domain.Assignment{UserID: u, TeamID: j.teams[u]})
		}
	}
	return job, nil
}

func (f *fakeFSM) CreateJob(ctx context.Context, nj domain.NewJob) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateJob")
	f.created = append(f.created, nj)
	f.nextID++
	id := fmt.Sprintf("job-%d", f.nextID)
	start, end := nj.Start, nj.End
	j := &fakeJob{id: id, category: nj.Category, start: &start, end: &end, teams: make(map[string]string)}
	for _, a := range nj.Assignments {
		j.users = append(j.users, a.UserID)
		j.teams[a.UserID] = a.TeamID
	}
	f.jobs[id] = j
	return id, nil
}

func (f *fakeFSM) RescheduleJob(ctx context.Context, id string, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "RescheduleJob")
	j, err := f.job(id)
	if err != nil {
		return err
	}
	if f.ignoreReschedule {
		return nil
	}
	s, e := start.UTC().Truncate(time.Second), end.UTC().Truncate(time.Second)
	j.start, j.end = &s, &e
	return nil
}

func (f *fakeFSM) clearWindow(j *fakeJob, due *time.Time) error {
	if f.requireDueToClear && due == nil && j.due == nil {
		return &domain.ApplicationError{Op: "clear_schedule", StatusCode: http.StatusOK, Message: "due_date is required"}
	}
	if due != nil {
		d := *due
		j.due = &d
	}
	if f.zeroLengthClear && j.start != nil {
		s := *j.start
		j.end = &s
		return nil
	}
	j.start, j.end = nil, nil
	return nil
}

func (f *fakeFSM) ClearSchedule(ctx context.Context, id string, due *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ClearSchedule")
	f.clearDues = append(f.clearDues, due)
	j, err := f.job(id)
	if err != nil {
		return err
	}
	if !f.flagClears {
		return nil
	}
	return f.clearWindow(j, due)
}

func (f *fakeFSM) NullifySchedule(ctx context.Context, id string, due *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "NullifySchedule")
	j, err := f.job(id)
	if err != nil {
		return err
	}
	if !f.nullClears {
		return nil
	}
	return f.clearWindow(j, due)
}

func (f *fakeFSM) ReplaceAssignments(ctx context.Context, id string, users []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ReplaceAssignments")
	j, err := f.job(id)
	if err != nil {
		return err
	}
	if f.replaceClears {
		j.users = append([]string(nil), users...)
	}
	return nil
}

func (f *fakeFSM) UpdateAssignments(ctx context.Context, id string, changes []domain.AssignmentChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "UpdateAssignments")
	f.assignBatches = append(f.assignBatches, changes)
	j, err := f.job(id)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		switch ch.Type {
		case domain.ChangeAssign:
			if !contains(j.users, ch.UserID) {
				j.users = append(j.users, ch.UserID)
				j.teams[ch.UserID] = ch.TeamID
			}
		case domain.ChangeUnassign:
			if f.stickyAlways[ch.UserID] {
				continue
			}
			if f.stickyOnce[ch.UserID] {
				delete(f.stickyOnce, ch.UserID)
				continue
			}
			j.users = remove(j.users, ch.UserID)
		}
	}
	return nil
}

func (f *fakeFSM) UpdateStatusByName(ctx context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "UpdateStatusByName")
	f.statusByName = append(f.statusByName, name)
	return f.failStatusUpdate
}

func (f *fakeFSM) UpdateStatusByID(ctx context.Context, id, statusID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "UpdateStatusByID")
	f.statusByID = append(f.statusByID, statusID)
	return f.failStatusUpdate
}

func (f *fakeFSM) TeamMembers(ctx context.Context, teamID string) ([]domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "TeamMembers")
	return f.members[teamID], nil
}

func (f *fakeFSM) UserTeam(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "UserTeam")
	return f.userTeams[userID], nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func members(ids ...string) []domain.Member {
	out := make([]domain.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Member{UserID: id})
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }

// fakeDirectory resolves from fixed maps.
type fakeDirectory struct {
	users map[string]domain.CrewResolution
	teams map[string]string
}

func (d fakeDirectory) ResolveCrew(ctx context.Context, names []string) domain.CrewResolution {
	var res domain.CrewResolution
	for _, n := range names {
		r, ok := d.users[n]
		if !ok {
			res.Missing = append(res.Missing, n)
			continue
		}
		res.UserIDs = append(res.UserIDs, r.UserIDs...)
		if res.TeamID == "" {
			res.TeamID = r.TeamID
		}
	}
	return res
}

func (d fakeDirectory) ResolveTeam(ctx context.Context, name string) (string, bool) {
	id, ok := d.teams[name]
	return id, ok
}

type memoryRecords struct {
	mu      sync.Mutex
	records []*domain.SyncRecord
}

func (m *memoryRecords) Save(ctx context.Context, r *domain.SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memoryRecords) FindByJob(ctx context.Context, jobID string, limit int) ([]*domain.SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SyncRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].JobID == jobID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memoryRecords) FindRecentFailures(ctx context.Context, since time.Time, limit int) ([]*domain.SyncRecord, error) {
	return nil, nil
}

func (m *memoryRecords) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return 0, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.SyncEvent
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, e domain.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type txKey struct{}

// recordingUoW tracks transaction boundaries and checks that writes carry
// the transaction context.
type recordingUoW struct {
	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
}

func (u *recordingUoW) Begin(ctx context.Context) (context.Context, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.begins++
	return context.WithValue(ctx, txKey{}, u.begins), nil
}

func (u *recordingUoW) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.commits++
	return nil
}

func (u *recordingUoW) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollbacks++
	return nil
}

// txRecords rejects saves made outside a transaction.
type txRecords struct {
	memoryRecords
}

func (r *txRecords) Save(ctx context.Context, rec *domain.SyncRecord) error {
	if ctx.Value(txKey{}) == nil {
		return errors.New("save outside transaction")
	}
	return r.memoryRecords.Save(ctx, rec)
}
