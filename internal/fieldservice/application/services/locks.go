package services

import "sync"

// jobLocks serializes engine calls per job id. Entries are dropped once no
// caller holds or waits on them.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*jobLock)}
}

// lock blocks until jobID is free and returns its release func.
func (l *jobLocks) lock(jobID string) func() {
	l.mu.Lock()
	jl, ok := l.locks[jobID]
	if !ok {
		jl = &jobLock{}
		l.locks[jobID] = jl
	}
	jl.refs++
	l.mu.Unlock()

	jl.mu.Lock()
	return func() {
		jl.mu.Unlock()
		l.mu.Lock()
		jl.refs--
		if jl.refs == 0 {
			delete(l.locks, jobID)
		}
		l.mu.Unlock()
	}
}

func (l *jobLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
