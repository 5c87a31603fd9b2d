package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mergemeet/cmd/internal/auth"
	"mergemeet/cmd/internal/clock"
	v1 "mergemeet/shared/contracts/realtime/v1"
)

const (
	defaultBaseDelay    = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMaxAttempts  = 10
	defaultAuthTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReconnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReconnecting:
		return "reconnecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ConnConfig holds construction parameters for Conn.
type ConnConfig struct {
	// URL is the realtime endpoint. It never carries credentials; the
	// token travels in the auth frame after the transport opens.
	URL string

	Transport Transport
	Store     *auth.Store
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *Metrics

	// Dispatch receives every steady-state inbound frame. Frames arriving
	// before the auth ack are consumed by the handshake and never reach it.
	Dispatch func(data []byte)

	// Zero values pick the defaults above.
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
}

// pendingConnect is the shared outcome of an in-flight connect attempt.
// err is written before done closes.
type pendingConnect struct {
	done chan struct{}
	err  error
}

func newPendingConnect() *pendingConnect {
	return &pendingConnect{done: make(chan struct{})}
}

func (p *pendingConnect) resolve(err error) {
	p.err = err
	close(p.done)
}

func (p *pendingConnect) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.err
	}
}

// Conn owns the realtime socket lifecycle: dial, authentication
// handshake, steady-state reads, and reconnection with capped exponential
// backoff. It never queues outbound frames; Send reports whether the
// transport was open.
type Conn struct {
	log       *slog.Logger
	transport Transport
	store     *auth.Store
	clk       clock.Clock
	metrics   *Metrics
	dispatch  func(data []byte)

	url          string
	baseDelay    time.Duration
	maxDelay     time.Duration
	maxAttempts  int
	authTimeout  time.Duration
	writeTimeout time.Duration

	mu        sync.Mutex
	state     State
	attempts  int
	lastErr   error
	tc        TransportConn
	pending   *pendingConnect
	reconnect *clock.Timer
	listeners []func(State)
}

// NewConn constructs a Conn in the disconnected state.
func NewConn(cfg ConnConfig) *Conn {
	c := &Conn{
		log:          cfg.Logger,
		transport:    cfg.Transport,
		store:        cfg.Store,
		clk:          cfg.Clock,
		metrics:      cfg.Metrics,
		dispatch:     cfg.Dispatch,
		url:          cfg.URL,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		maxAttempts:  cfg.MaxAttempts,
		authTimeout:  cfg.AuthTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.clk == nil {
		c.clk = clock.Real()
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.authTimeout <= 0 {
		c.authTimeout = defaultAuthTimeout
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error recorded by the most recent failed attempt.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnStateChange registers a listener invoked on every state transition.
// Listeners run on the goroutine that performed the transition.
func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Connect establishes the connection and completes the authentication
// handshake. Already connected is a no-op; an in-flight attempt is joined
// rather than duplicated. Fails fast when the store holds no
// authenticated identity.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		p := c.pending
		if p == nil {
			p = newPendingConnect()
			c.pending = p
		}
		c.mu.Unlock()
		return p.wait(ctx)
	}

	cred, ok := c.store.Get()
	if !ok || !cred.Authenticated() {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}

	p := newPendingConnect()
	c.pending = p
	changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	if changed {
		c.announce(StateConnecting)
	}

	go c.run(cred)
	return p.wait(ctx)
}

// Disconnect closes the connection with the normal-closure code, cancels
// any pending reconnect timer, and pins the attempt counter to the cap so
// a close event racing this call cannot schedule another attempt.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.attempts = c.maxAttempts
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	tc := c.tc
	c.tc = nil
	p := c.pending
	c.pending = nil
	changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if tc != nil {
		_ = tc.Close(CloseNormal, "client disconnect")
	}
	if p != nil {
		p.resolve(ErrConnectionClosed)
	}
	if changed {
		c.announce(StateDisconnected)
	}
	c.log.Info("ws.disconnect")
}

// Send writes one frame if the transport is open. It never buffers;
// false means the frame was not sent and the caller owns resubmission.
func (c *Conn) Send(frame any) bool {
	c.mu.Lock()
	tc := c.tc
	open := c.state == StateConnected && tc != nil
	c.mu.Unlock()
	if !open {
		return false
	}
	return c.write(tc, frame) == nil
}

// run drives one connection attempt end to end: dial, auth handshake,
// then the steady-state read loop.
func (c *Conn) run(cred auth.Credential) {
	dialCtx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	tc, err := c.transport.Dial(dialCtx, c.url)
	cancel()
	if err != nil {
		c.log.Warn("ws.dial.fail", "err", err)
		c.settle(fmt.Errorf("dial: %w", err))
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		// Disconnect raced the dial; drop the fresh connection.
		c.mu.Unlock()
		_ = tc.Close(CloseNormal, "superseded")
		c.settle(ErrConnectionClosed)
		return
	}
	c.tc = tc
	c.mu.Unlock()

	if err := c.write(tc, v1.NewAuth(cred.AccessToken, cred.Identity.UserID)); err != nil {
		c.dropConn(tc)
		_ = tc.Close(CloseAbnormal, "auth write failed")
		c.settle(fmt.Errorf("auth write: %w", err))
		c.scheduleReconnect()
		return
	}

	sessDone := make(chan struct{})
	defer close(sessDone)

	frames := make(chan []byte)
	readFail := make(chan error, 1)
	go func() {
		for {
			data, err := tc.Read(context.Background())
			if err != nil {
				readFail <- err
				return
			}
			select {
			case frames <- data:
			case <-sessDone:
				return
			}
		}
	}()

	if !c.handshake(tc, frames, readFail) {
		return
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		_ = tc.Close(CloseNormal, "superseded")
		c.settle(ErrConnectionClosed)
		return
	}
	c.attempts = 0
	c.lastErr = nil
	p := c.pending
	c.pending = nil
	changed := c.setStateLocked(StateConnected)
	c.mu.Unlock()
	if changed {
		c.announce(StateConnected)
	}
	if p != nil {
		p.resolve(nil)
	}
	c.log.Info("ws.connected")

	for {
		select {
		case err := <-readFail:
			code := closeCodeOf(err)
			c.dropConn(tc)
			if code == CloseNormal {
				c.log.Info("ws.closed", "code", int(code))
				c.toDisconnected()
			} else {
				c.log.Warn("ws.closed.abnormal", "code", int(code), "err", err)
				c.scheduleReconnect()
			}
			return

		case data := <-frames:
			typ, err := v1.PeekType(data)
			if err != nil {
				c.log.Debug("ws.frame.bad_json", "err", err)
				continue
			}
			c.metrics.incFrameReceived(typ)
			if c.dispatch != nil {
				c.dispatch(data)
			}
		}
	}
}

// handshake waits for the auth ack. Returns true when the session may
// proceed to steady state; on false the attempt has already settled.
func (c *Conn) handshake(tc TransportConn, frames <-chan []byte, readFail <-chan error) bool {
	timedOut := make(chan struct{}, 1)
	deadline := c.clk.AfterFunc(c.authTimeout, func() { timedOut <- struct{}{} })
	defer deadline.Stop()

	for {
		select {
		case <-timedOut:
			c.log.Warn("ws.auth.timeout", "timeout", c.authTimeout)
			c.failHandshake(tc, ClosePolicyViolation, "auth timeout", ErrAuthTimeout)
			return false

		case err := <-readFail:
			code := closeCodeOf(err)
			c.log.Warn("ws.handshake.closed", "code", int(code), "err", err)
			c.dropConn(tc)
			c.settle(ErrConnectionClosed)
			if code == CloseNormal {
				c.toDisconnected()
			} else {
				c.scheduleReconnect()
			}
			return false

		case data := <-frames:
			typ, err := v1.PeekType(data)
			if err != nil {
				continue
			}
			c.metrics.incFrameReceived(typ)

			switch typ {
			case v1.TypeAuthSuccess:
				return true

			case v1.TypeError:
				var ef v1.ErrorFrame
				if json.Unmarshal(data, &ef) == nil && ef.IsAuthFailure() {
					c.log.Warn("ws.auth.rejected", "message", ef.Message)
					c.failHandshake(tc, ClosePolicyViolation, "auth rejected", ErrAuthRejected)
					return false
				}
				// Non-auth errors before the ack are ignored.

			default:
				// Frames before the ack are not dispatched.
			}
		}
	}
}

func (c *Conn) failHandshake(tc TransportConn, code CloseCode, reason string, cause error) {
	c.dropConn(tc)
	_ = tc.Close(code, reason)
	c.settle(cause)
	c.scheduleReconnect()
}

// settle resolves the pending connect attempt, if any.
func (c *Conn) settle(err error) {
	c.mu.Lock()
	if err != nil {
		c.lastErr = err
	}
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p != nil {
		p.resolve(err)
	}
}

func (c *Conn) dropConn(tc TransportConn) {
	c.mu.Lock()
	if c.tc == tc {
		c.tc = nil
	}
	c.mu.Unlock()
}

func (c *Conn) toDisconnected() {
	c.mu.Lock()
	changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	if changed {
		c.announce(StateDisconnected)
	}
}

// scheduleReconnect arms the backoff timer, or gives up once the attempt
// cap is reached. The counter increments before the delay is computed.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.attempts >= c.maxAttempts {
		changed := c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.log.Warn("ws.reconnect.exhausted", "attempts", c.maxAttempts)
		if changed {
			c.announce(StateDisconnected)
		}
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := backoffDelay(c.baseDelay, c.maxDelay, c.attempts)
	changed := c.setStateLocked(StateReconnecting)
	c.metrics.incReconnect()
	c.reconnect = c.clk.AfterFunc(delay, c.retry)
	c.mu.Unlock()

	c.log.Info("ws.reconnect.scheduled", "attempt", attempt, "delay", delay)
	if changed {
		c.announce(StateReconnecting)
	}
}

// retry fires when the backoff timer elapses.
func (c *Conn) retry() {
	c.mu.Lock()
	c.reconnect = nil
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	cred, ok := c.store.Get()
	if !ok || !cred.Authenticated() {
		changed := c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.log.Info("ws.reconnect.abort", "reason", "signed out")
		if changed {
			c.announce(StateDisconnected)
		}
		return
	}
	c.mu.Unlock()
	go c.run(cred)
}

func (c *Conn) write(tc TransportConn, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("ws.encode.fail", "err", err)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := tc.Write(ctx, data); err != nil {
		c.log.Warn("ws.write.fail", "err", err)
		return err
	}
	if typ, err := v1.PeekType(data); err == nil {
		c.metrics.incFrameSent(typ)
	}
	return nil
}

func (c *Conn) setStateLocked(to State) bool {
	if c.state == to {
		return false
	}
	c.state = to
	return true
}

func (c *Conn) announce(s State) {
	c.metrics.observeState(s)
	c.log.Debug("ws.state", "state", s.String())

	c.mu.Lock()
	listeners := make([]func(State), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// backoffDelay computes base << attempts, capped.
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if attempts > 30 {
		return max
	}
	d := base << uint(attempts)
	if d <= 0 || d > max {
		return max
	}
	return d
}
