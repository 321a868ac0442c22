package incoming

import (
	"slices"
	"sync"
)

// keyLock сериализует работу по отдельным ID записей.
// Разные ID блокируются независимо.
type keyLock struct {
	entries map[string]*keyEntry
	mu      sync.Mutex
}

type keyEntry struct {
	refs int
	mu   sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{entries: make(map[string]*keyEntry)}
}

// Lock acquires every id in sorted order and returns the matching unlock.
// ids must not contain duplicates.
func (l *keyLock) Lock(ids []string) func() {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	held := make([]*keyEntry, 0, len(sorted))
	for _, id := range sorted {
		e := l.acquire(id)
		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(sorted[i])
		}
	}
}

func (l *keyLock) acquire(id string) *keyEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		e = &keyEntry{}
		l.entries[id] = e
	}
	e.refs++
	return e
}

func (l *keyLock) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[id]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

func (l *keyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
