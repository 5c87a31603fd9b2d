package auth

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingPersister always errors; the store must stay usable regardless.
type failingPersister struct{}

func (failingPersister) Load() (Credential, bool, error) { return Credential{}, false, errors.New("disk") }
func (failingPersister) Save(Credential) error           { return errors.New("disk") }
func (failingPersister) Clear() error                    { return errors.New("disk") }
func (failingPersister) Close() error                    { return nil }

// memPersister records the last saved credential.
type memPersister struct {
	cred  Credential
	has   bool
	saves int
}

func (m *memPersister) Load() (Credential, bool, error) { return m.cred, m.has, nil }
func (m *memPersister) Save(c Credential) error {
	m.cred, m.has = c, true
	m.saves++
	return nil
}
func (m *memPersister) Clear() error {
	m.cred, m.has = Credential{}, false
	return nil
}
func (m *memPersister) Close() error { return nil }

func TestStoreSetGetClear(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger(), nil)
	if _, ok := s.Get(); ok {
		t.Fatal("fresh store should be empty")
	}

	cred := Credential{AccessToken: "at", RefreshToken: "rt", Identity: Identity{UserID: "u1"}}
	s.Set(cred)

	got, ok := s.Get()
	if !ok || got.AccessToken != "at" || got.Identity.UserID != "u1" {
		t.Fatalf("Get after Set: got=%+v ok=%v", got, ok)
	}

	s.Clear()
	if _, ok := s.Get(); ok {
		t.Fatal("store should be empty after Clear")
	}
}

func TestStorePersistenceFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger(), failingPersister{})
	cred := Credential{AccessToken: "at", Identity: Identity{UserID: "u1"}}
	s.Set(cred)

	// The memory copy stays authoritative even though Save failed.
	got, ok := s.Get()
	if !ok || got.AccessToken != "at" {
		t.Fatalf("memory copy lost after persist failure: got=%+v ok=%v", got, ok)
	}
}

func TestStoreSeedsFromPersister(t *testing.T) {
	t.Parallel()

	p := &memPersister{
		cred: Credential{AccessToken: "at", Identity: Identity{UserID: "u9"}},
		has:  true,
	}
	s := NewStore(testLogger(), p)

	got, ok := s.Get()
	if !ok || got.Identity.UserID != "u9" {
		t.Fatalf("store not seeded: got=%+v ok=%v", got, ok)
	}
	if p.saves != 0 {
		t.Fatalf("seeding must not write back: saves=%d", p.saves)
	}
}

func TestStoreWatchers(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger(), nil)

	var events []string
	s.Watch(func(_ Credential, ok bool) {
		if ok {
			events = append(events, "a:set")
		} else {
			events = append(events, "a:clear")
		}
	})
	cancelB := s.Watch(func(_ Credential, ok bool) {
		if ok {
			events = append(events, "b:set")
		} else {
			events = append(events, "b:clear")
		}
	})

	s.Set(Credential{AccessToken: "at", Identity: Identity{UserID: "u1"}})
	cancelB()
	s.Clear()

	want := []string{"a:set", "b:set", "a:clear"}
	if len(events) != len(want) {
		t.Fatalf("events=%v want=%v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events=%v want=%v", events, want)
		}
	}
}

func TestStoreClearOnEmptyIsNoop(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger(), nil)
	fired := 0
	s.Watch(func(Credential, bool) { fired++ })

	s.Clear()
	if fired != 0 {
		t.Fatalf("clear on empty store notified watchers %d times", fired)
	}
}
