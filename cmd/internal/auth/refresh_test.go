package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func authedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(testLogger(), nil)
	s.Set(Credential{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		Identity:     Identity{UserID: "u1"},
	})
	return s
}

func TestRefreshSingleFlight(t *testing.T) {
	t.Parallel()

	store := authedStore(t)

	var calls atomic.Int64
	release := make(chan struct{})
	c := NewCoordinator(testLogger(), store, func(_ context.Context, refreshToken string) (Credential, error) {
		calls.Add(1)
		if refreshToken != "old-refresh" {
			t.Errorf("refresh called with token %q", refreshToken)
		}
		<-release
		return Credential{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			Identity:     Identity{UserID: "u1"},
		}, nil
	})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Credential, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background())
		}(i)
	}

	// Let every caller either start the ticket or attach to it, then
	// release the single underlying call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("underlying refresh called %d times, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if results[i].AccessToken != "new-access" {
			t.Fatalf("caller %d: got %+v", i, results[i])
		}
	}

	got, ok := store.Get()
	if !ok || got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
		t.Fatalf("store not updated: got=%+v ok=%v", got, ok)
	}
}

func TestRefreshFailureClearsStoreAndSignalsOnce(t *testing.T) {
	t.Parallel()

	store := authedStore(t)

	var expired atomic.Int64
	release := make(chan struct{})
	c := NewCoordinator(testLogger(), store, func(context.Context, string) (Credential, error) {
		<-release
		return Credential{}, errors.New("refresh rejected")
	})
	c.OnSessionExpired(func(error) { expired.Add(1) })

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Refresh(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if !errors.Is(errs[i], ErrSessionExpired) {
			t.Fatalf("caller %d: got err=%v want ErrSessionExpired", i, errs[i])
		}
	}
	if n := expired.Load(); n != 1 {
		t.Fatalf("session-expired signal fired %d times, want 1", n)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("store should be cleared after refresh failure")
	}
}

func TestRefreshReArmsAfterSettle(t *testing.T) {
	t.Parallel()

	store := authedStore(t)

	var calls atomic.Int64
	c := NewCoordinator(testLogger(), store, func(context.Context, string) (Credential, error) {
		calls.Add(1)
		return Credential{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			Identity:     Identity{UserID: "u1"},
		}, nil
	})

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("sequential refreshes issued %d calls, want 2", n)
	}
}

func TestRefreshWithoutCredentials(t *testing.T) {
	t.Parallel()

	store := NewStore(testLogger(), nil)
	c := NewCoordinator(testLogger(), store, func(context.Context, string) (Credential, error) {
		t.Error("refresh call must not be issued without credentials")
		return Credential{}, nil
	})

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("got err=%v want ErrSessionExpired", err)
	}
}

func TestRefreshCallerCancellationDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	store := authedStore(t)

	release := make(chan struct{})
	c := NewCoordinator(testLogger(), store, func(context.Context, string) (Credential, error) {
		<-release
		return Credential{AccessToken: "new-access", RefreshToken: "r", Identity: Identity{UserID: "u1"}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		firstErr <- err
	}()

	secondDone := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		secondDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: got err=%v want context.Canceled", err)
	}

	close(release)
	if err := <-secondDone; err != nil {
		t.Fatalf("surviving caller: unexpected error %v", err)
	}
}
