package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mergemeet/cmd/internal/auth"
)

const defaultRequestTimeout = 10 * time.Second

// refreshExemptPaths are the endpoints that must never trigger the
// automatic refresh-and-replay: a 401 from any of these is the final
// answer, not a stale access token.
var refreshExemptPaths = []string{
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/refresh",
	"/api/auth/admin-login",
}

// Refresher is the slice of the refresh coordinator the pipeline needs.
type Refresher interface {
	Refresh(ctx context.Context) (auth.Credential, error)
}

// ClientConfig holds construction parameters for Client.
type ClientConfig struct {
	// BaseURL is the API origin, e.g. "https://api.mergemeet.example".
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client with a
	// default timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is the authenticated REST client. All requests flow through
// doJSON, which injects the bearer token and owns the 401 retry policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	store      *auth.Store

	// refresher is set after construction (the coordinator's refresh call
	// is itself issued through this client).
	refresher Refresher
}

// NewClient constructs a Client bound to the credential store.
func NewClient(config ClientConfig, store *auth.Store) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("httpapi: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("httpapi: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		log:        log,
		store:      store,
	}, nil
}

// SetRefresher wires the refresh coordinator into the 401 retry path.
// Until it is set, authorization failures propagate unchanged.
func (c *Client) SetRefresher(r Refresher) { c.refresher = r }

// doJSON performs one logical API call: marshal body, inject credentials,
// execute, decode into out. On a 401 for a non-exempt path it refreshes
// once through the coordinator and replays the call with the rotated
// token; a second 401 propagates. It never loops.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	status, respBody, err := c.execute(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && c.refresher != nil && !isRefreshExempt(path) {
		c.log.Debug("http.retry.refresh", "method", method, "path", path)
		if _, err := c.refresher.Refresh(ctx); err != nil {
			return err
		}
		status, respBody, err = c.execute(ctx, method, path, query, body)
		if err != nil {
			return err
		}
	}

	if status < 200 || status > 299 {
		return &APIError{StatusCode: status, Detail: decodeDetail(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("httpapi: decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// execute performs a single HTTP exchange and returns status and body.
// Transport errors are returned as-is; HTTP-level failures are the
// caller's to classify.
func (c *Client) execute(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("httpapi: encode %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Snapshot read: the credential may rotate between this read and the
	// response; the 401 path above restarts with the fresh one.
	if cred, ok := c.store.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("httpapi: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("httpapi: read %s %s response: %w", method, path, err)
	}
	return resp.StatusCode, respBody, nil
}

func isRefreshExempt(path string) bool {
	for _, exempt := range refreshExemptPaths {
		if path == exempt {
			return true
		}
	}
	return false
}

// decodeDetail extracts the server's {"detail": "..."} error body; a
// non-JSON body is returned truncated as-is.
func decodeDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
