package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultRefreshTimeout = 10 * time.Second

// RefreshFunc performs the actual credential-refresh network call. It is
// injected by the HTTP layer so this package stays transport-free.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credential, error)

// Coordinator guarantees at most one outstanding refresh call at any time.
// Concurrent callers attach to the live ticket and settle together with
// the single underlying call's outcome.
//
// On success the resolved credential replaces the store's contents. On
// failure the store is cleared and the session-expired callback fires
// exactly once for that ticket, so exactly one observer performs the
// user-facing logout.
type Coordinator struct {
	log     *slog.Logger
	store   *Store
	refresh RefreshFunc
	timeout time.Duration

	// expired is optional; set before first use.
	expired func(error)

	mu     sync.Mutex
	ticket *refreshTicket
}

// refreshTicket is the at-most-one-live in-flight refresh. It settles once:
// done is closed after cred/err are final.
type refreshTicket struct {
	done chan struct{}
	cred Credential
	err  error
}

// NewCoordinator constructs a Coordinator around the given store and
// refresh call.
func NewCoordinator(log *slog.Logger, store *Store, refresh RefreshFunc) *Coordinator {
	return &Coordinator{
		log:     log,
		store:   store,
		refresh: refresh,
		timeout: defaultRefreshTimeout,
	}
}

// OnSessionExpired registers the single observer of terminal refresh
// failure. Call before the coordinator is shared.
func (c *Coordinator) OnSessionExpired(fn func(error)) { c.expired = fn }

// Refresh returns the refreshed credential. If a refresh is already in
// flight, the caller attaches to it instead of issuing a second call; all
// attached callers observe the same outcome. ctx bounds only this caller's
// wait — the underlying call runs on its own deadline so one caller's
// cancellation cannot fail the others.
func (c *Coordinator) Refresh(ctx context.Context) (Credential, error) {
	c.mu.Lock()
	if t := c.ticket; t != nil {
		c.mu.Unlock()
		c.log.Debug("refresh.attach")
		return t.wait(ctx)
	}

	t := &refreshTicket{done: make(chan struct{})}
	c.ticket = t
	c.mu.Unlock()

	go c.run(t)
	return t.wait(ctx)
}

// run performs the network call and settles the ticket. The ticket is
// cleared whichever way the call settles, immediately re-arming the
// coordinator for a fresh attempt.
func (c *Coordinator) run(t *refreshTicket) {
	cred, ok := c.store.Get()

	var (
		next Credential
		err  error
	)
	if !ok || cred.RefreshToken == "" {
		err = ErrNotAuthenticated
	} else {
		callCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		next, err = c.refresh(callCtx, cred.RefreshToken)
		cancel()
	}

	c.mu.Lock()
	c.ticket = nil
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("refresh.fail", "err", err)
		c.store.Clear()

		t.err = fmt.Errorf("%w: %v", ErrSessionExpired, err)
		if c.expired != nil {
			c.expired(t.err)
		}
		close(t.done)
		return
	}

	c.log.Info("refresh.ok", "user_id", next.Identity.UserID)
	c.store.Set(next)

	t.cred = next
	close(t.done)
}

func (t *refreshTicket) wait(ctx context.Context) (Credential, error) {
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case <-t.done:
		return t.cred, t.err
	}
}
