package kt

import (
	"sort"
	"sync"

	"github.com/alfredjeanlab/hpit/internal/model"
)

// keyedLocks serializes read-modify-write cycles per mastery triple.
// Entries are dropped when no goroutine holds or waits on them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[model.MasteryKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[model.MasteryKey]*keyLock)}
}

// lock acquires the lock for key and returns its release function.
func (k *keyedLocks) lock(key model.MasteryKey) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// lockAll acquires every key in a fixed order so overlapping batches cannot
// deadlock. Duplicate keys are locked once.
func (k *keyedLocks) lockAll(keys []model.MasteryKey) func() {
	sorted := make([]model.MasteryKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.PublisherID != b.PublisherID {
			return a.PublisherID < b.PublisherID
		}
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		return a.SkillID < b.SkillID
	})

	var releases []func()
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		releases = append(releases, k.lock(key))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
