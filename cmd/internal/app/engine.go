// Package app wires the MergeMeet client engine: config, logging, and the
// lifecycle of the credential store, refresh coordinator, REST client,
// realtime connection, dispatch bus, and chat consumer.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"mergemeet/cmd/internal/auth"
	"mergemeet/cmd/internal/chat"
	"mergemeet/cmd/internal/clock"
	"mergemeet/cmd/internal/httpapi"
	"mergemeet/cmd/internal/realtime"
)

// EngineOptions carries construction dependencies. Zero values pick
// production defaults; tests inject fakes.
type EngineOptions struct {
	Config    Config
	Logger    *slog.Logger
	Clock     clock.Clock
	Transport realtime.Transport

	// HTTPClient is used for REST calls. nil means a default client with
	// the configured request timeout.
	HTTPClient *http.Client
}

// Engine is the explicitly constructed service object owning the whole
// session layer. Instances are independent; there is no ambient global.
type Engine struct {
	log     *slog.Logger
	cfg     Config
	metrics *realtime.Metrics
	reg     *prometheus.Registry

	store       *auth.Store
	persister   auth.Persister
	coordinator *auth.Coordinator
	api         *httpapi.Client
	bus         *realtime.Bus
	conn        *realtime.Conn
	chat        *chat.Consumer

	mu        sync.Mutex
	started   bool
	unwatch   func()
	onExpired func(error)
}

// NewEngine constructs a fully wired engine. Nothing connects until
// Start.
func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	transport := opts.Transport
	if transport == nil {
		transport = &realtime.WebSocketTransport{}
	}

	var persister auth.Persister
	if cfg.CredentialsPath != "" {
		key, err := auth.LoadOrCreateDeviceKey(cfg.DeviceKeyPath)
		if err != nil {
			log.Warn("credential.key.fail", "path", cfg.DeviceKeyPath, "err", err)
		} else if p, err := auth.NewSQLitePersister(cfg.CredentialsPath, key); err != nil {
			// Persistence failures are non-fatal; the in-memory copy is
			// authoritative for the process lifetime.
			log.Warn("credential.persist.open.fail", "path", cfg.CredentialsPath, "err", err)
		} else {
			persister = p
		}
	}

	store := auth.NewStore(log, persister)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	api, err := httpapi.NewClient(httpapi.ClientConfig{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: httpClient,
		Logger:     log,
	}, store)
	if err != nil {
		return nil, err
	}

	coordinator := auth.NewCoordinator(log, store, api.RefreshTokens)
	api.SetRefresher(coordinator)

	reg := prometheus.NewRegistry()
	metrics := realtime.NewMetrics(reg)

	bus := realtime.NewBus(log, metrics)
	conn := realtime.NewConn(realtime.ConnConfig{
		URL:       cfg.WebSocketURL(),
		Transport: transport,
		Store:     store,
		Clock:     clk,
		Logger:    log,
		Metrics:   metrics,
		Dispatch:  bus.Dispatch,
	})
	bus.BindSender(conn.Send)

	consumer := chat.NewConsumer(log, api, bus, clk, store)

	e := &Engine{
		log:         log,
		cfg:         cfg,
		metrics:     metrics,
		reg:         reg,
		store:       store,
		persister:   persister,
		coordinator: coordinator,
		api:         api,
		bus:         bus,
		conn:        conn,
		chat:        consumer,
	}
	coordinator.OnSessionExpired(e.sessionExpired)
	return e, nil
}

// Start subscribes the chat consumer, installs the credential watcher
// that keeps the connection in step with authentication state, and
// connects immediately when the store already holds a credential.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	e.chat.Start()

	unwatch := e.store.Watch(func(cred auth.Credential, ok bool) {
		if ok && cred.Authenticated() {
			go e.connect()
		} else {
			e.conn.Disconnect()
		}
	})
	e.mu.Lock()
	e.unwatch = unwatch
	e.mu.Unlock()

	if cred, ok := e.store.Get(); ok && cred.Authenticated() {
		if err := e.conn.Connect(ctx); err != nil {
			// The reconnect schedule owns recovery from here.
			e.log.Warn("engine.connect.fail", "err", err)
		}
	}
	return nil
}

// Stop tears the engine down: watcher first, then consumers, then the
// socket, then persistence.
func (e *Engine) Stop() {
	e.mu.Lock()
	started := e.started
	e.started = false
	unwatch := e.unwatch
	e.unwatch = nil
	persister := e.persister
	e.persister = nil
	e.mu.Unlock()

	if started {
		if unwatch != nil {
			unwatch()
		}
		e.chat.Stop()
		e.conn.Disconnect()
	}
	if persister != nil {
		if err := persister.Close(); err != nil {
			e.log.Warn("credential.persist.close.fail", "err", err)
		}
	}
}

func (e *Engine) connect() {
	if err := e.conn.Connect(context.Background()); err != nil {
		e.log.Warn("engine.connect.fail", "err", err)
	}
}

// OnSessionExpired installs the observer for terminal refresh failures.
// Exactly one observer should perform user-facing logout handling.
func (e *Engine) OnSessionExpired(fn func(error)) {
	e.mu.Lock()
	e.onExpired = fn
	e.mu.Unlock()
}

func (e *Engine) sessionExpired(err error) {
	e.metrics.IncSessionExpired()
	e.log.Warn("session.expired", "err", err)
	e.conn.Disconnect()

	e.mu.Lock()
	fn := e.onExpired
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Login authenticates and stores the credential; the watcher then brings
// the realtime connection up.
func (e *Engine) Login(ctx context.Context, email, password string) (auth.Credential, error) {
	cred, err := e.api.Login(ctx, email, password)
	if err != nil {
		return auth.Credential{}, err
	}
	e.store.Set(cred)
	return cred, nil
}

// Logout clears the credential; the watcher tears the connection down.
func (e *Engine) Logout() {
	e.store.Clear()
}

// Store exposes the credential store.
func (e *Engine) Store() *auth.Store { return e.store }

// API exposes the REST client.
func (e *Engine) API() *httpapi.Client { return e.api }

// Bus exposes the dispatch bus for additional consumers.
func (e *Engine) Bus() *realtime.Bus { return e.bus }

// Conn exposes the connection state machine.
func (e *Engine) Conn() *realtime.Conn { return e.conn }

// Chat exposes the chat synchronization consumer.
func (e *Engine) Chat() *chat.Consumer { return e.chat }

// MetricsGatherer exposes the engine's metrics registry for serving.
func (e *Engine) MetricsGatherer() prometheus.Gatherer { return e.reg }
