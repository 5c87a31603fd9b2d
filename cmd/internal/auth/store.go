package auth

import (
	"log/slog"
	"sync"
)

// Persister is the durable backing for the credential store. The in-memory
// copy stays authoritative: persistence failures are logged, never surfaced.
type Persister interface {
	Load() (Credential, bool, error)
	Save(Credential) error
	Clear() error
	Close() error
}

// Watcher observes credential changes. ok is false after a clear.
type Watcher func(cred Credential, ok bool)

type watcherEntry struct {
	id uint64
	fn Watcher
}

// Store holds the current credentials. It is the single source every other
// component polls to decide whether a realtime connection should exist.
type Store struct {
	log     *slog.Logger
	persist Persister

	mu       sync.RWMutex
	cred     Credential
	has      bool
	nextID   uint64
	watchers []watcherEntry
}

// NewStore constructs a Store. persist may be nil for memory-only use
// (tests, smoke tooling). If the persister holds a credential, it seeds
// the store without notifying watchers.
func NewStore(log *slog.Logger, persist Persister) *Store {
	s := &Store{log: log, persist: persist}

	if persist != nil {
		cred, ok, err := persist.Load()
		if err != nil {
			log.Warn("credential.load.fail", "err", err)
		} else if ok {
			s.cred = cred
			s.has = true
		}
	}
	return s
}

// Get returns a snapshot of the current credential. Callers must tolerate
// the credential changing between reading it and using it.
func (s *Store) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.has
}

// Set replaces the stored credential and notifies watchers. Persistence is
// best-effort.
func (s *Store) Set(cred Credential) {
	s.mu.Lock()
	s.cred = cred
	s.has = true
	watchers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Save(cred); err != nil {
			s.log.Warn("credential.persist.fail", "err", err)
		}
	}

	for _, w := range watchers {
		w(cred, true)
	}
}

// Clear invalidates the credential atomically and notifies watchers.
// A clear on an already-empty store is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	if !s.has {
		s.mu.Unlock()
		return
	}
	s.cred = Credential{}
	s.has = false
	watchers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Clear(); err != nil {
			s.log.Warn("credential.persist.clear.fail", "err", err)
		}
	}

	for _, w := range watchers {
		w(Credential{}, false)
	}
}

// Watch registers a change observer and returns its disposer. Watchers are
// invoked in registration order, outside the store lock.
func (s *Store) Watch(w Watcher) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers = append(s.watchers, watcherEntry{id: id, fn: w})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.watchers {
			if entry.id == id {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) snapshotWatchersLocked() []Watcher {
	out := make([]Watcher, 0, len(s.watchers))
	for _, entry := range s.watchers {
		out = append(out, entry.fn)
	}
	return out
}
