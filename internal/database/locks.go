package database

import "sync"

// SubjectLocks serializes writers per subject ID. Different subjects never
// block each other. Entries are dropped once no goroutine holds or waits on them.
type SubjectLocks struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

// NewSubjectLocks creates an empty lock table.
func NewSubjectLocks() *SubjectLocks {
	return &SubjectLocks{locks: make(map[string]*subjectLock)}
}

// Lock acquires the lock for subjectID and returns the matching unlock func.
func (l *SubjectLocks) Lock(subjectID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[subjectID]
	if !ok {
		sl = &subjectLock{}
		l.locks[subjectID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()

	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, subjectID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of subjects currently locked or waited on.
func (l *SubjectLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
