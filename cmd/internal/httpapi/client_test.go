package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"mergemeet/cmd/internal/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testAccessToken builds an unsigned JWT with the given subject, enough
// for identity decoding without a verifier.
func testAccessToken(sub string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":%q,"email":"u@example.com"}`, sub)))
	return header + "." + payload + "."
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *auth.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := auth.NewStore(testLogger(), nil)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Logger: testLogger()}, store)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, store, srv
}

func seedCredential(t *testing.T, store *auth.Store, access string) {
	t.Helper()
	cred, err := auth.CredentialFromTokens(access, "refresh-1")
	if err != nil {
		t.Fatalf("CredentialFromTokens: %v", err)
	}
	store.Set(cred)
}

func TestClientInjectsBearerToken(t *testing.T) {
	t.Parallel()

	var got string
	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]Conversation{})
	}))
	token := testAccessToken("u1")
	seedCredential(t, store, token)

	if _, err := c.Conversations(context.Background()); err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if want := "Bearer " + token; got != want {
		t.Fatalf("Authorization = %q, want %q", got, want)
	}
}

func TestClientOmitsBearerWhenSignedOut(t *testing.T) {
	t.Parallel()

	var got string
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken:  testAccessToken("u1"),
			RefreshToken: "refresh-1",
		})
	}))

	if _, err := c.Login(context.Background(), "u@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got != "" {
		t.Fatalf("Authorization = %q, want empty", got)
	}
}

type refresherFunc func(ctx context.Context) (auth.Credential, error)

func (f refresherFunc) Refresh(ctx context.Context) (auth.Credential, error) { return f(ctx) }

func TestClientRefreshesAndReplaysOn401(t *testing.T) {
	t.Parallel()

	staleToken := testAccessToken("u1")
	freshToken := testAccessToken("u1-rotated")

	var calls atomic.Int64
	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+freshToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode([]Conversation{{MatchID: "m1"}})
	}))
	seedCredential(t, store, staleToken)

	var refreshes atomic.Int64
	c.SetRefresher(refresherFunc(func(ctx context.Context) (auth.Credential, error) {
		refreshes.Add(1)
		cred, err := auth.CredentialFromTokens(freshToken, "refresh-2")
		if err != nil {
			return auth.Credential{}, err
		}
		store.Set(cred)
		return cred, nil
	}))

	convos, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convos) != 1 || convos[0].MatchID != "m1" {
		t.Fatalf("conversations = %+v", convos)
	}
	if n := refreshes.Load(); n != 1 {
		t.Fatalf("refreshes = %d, want 1", n)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
}

func TestClientDoesNotLoopOnRepeated401(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	}))
	seedCredential(t, store, testAccessToken("u1"))

	c.SetRefresher(refresherFunc(func(ctx context.Context) (auth.Credential, error) {
		cred, err := auth.CredentialFromTokens(testAccessToken("u1"), "refresh-2")
		if err != nil {
			return auth.Credential{}, err
		}
		return cred, nil
	}))

	_, err := c.Conversations(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 APIError", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("requests = %d, want exactly 2", n)
	}
}

func TestClientRefreshFailurePropagates(t *testing.T) {
	t.Parallel()

	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	seedCredential(t, store, testAccessToken("u1"))

	c.SetRefresher(refresherFunc(func(ctx context.Context) (auth.Credential, error) {
		return auth.Credential{}, auth.ErrSessionExpired
	}))

	_, err := c.Conversations(context.Background())
	if !errors.Is(err, auth.ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestAuthEndpointsAreRefreshExempt(t *testing.T) {
	t.Parallel()

	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
	}))
	seedCredential(t, store, testAccessToken("u1"))

	c.SetRefresher(refresherFunc(func(ctx context.Context) (auth.Credential, error) {
		t.Fatal("refresher must not run for exempt endpoints")
		return auth.Credential{}, nil
	}))

	_, err := c.Login(context.Background(), "u@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Detail != "Incorrect email or password" {
		t.Fatalf("detail = %q", apiErr.Detail)
	}

	if _, err := c.RefreshTokens(context.Background(), "dead"); !IsUnauthorized(err) {
		t.Fatalf("RefreshTokens err = %v, want 401", err)
	}
}

func TestClientDecodesDetailErrorBody(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Match not found"}`))
	}))

	err := c.MarkConversationRead(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Detail != "Match not found" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("IsStatus(404) = false")
	}
}

func TestChatHistoryQueryAndDecode(t *testing.T) {
	t.Parallel()

	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/matches/m1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %q", got)
		}
		if got := r.URL.Query().Get("before_id"); got != "msg-10" {
			t.Errorf("before_id = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"messages": [{"id":"msg-8","match_id":"m1","sender_id":"u2","content":"hi","message_type":"text"}],
			"has_more": true,
			"next_cursor": "msg-8",
			"total": 40
		}`))
	}))
	seedCredential(t, store, testAccessToken("u1"))

	page, err := c.ChatHistory(context.Background(), "m1", "msg-10", 25)
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "msg-8" {
		t.Fatalf("messages = %+v", page.Messages)
	}
	if !page.HasMore || page.NextCursor != "msg-8" || page.Total != 40 {
		t.Fatalf("page = %+v", page)
	}
}

func TestLoginDecodesIdentity(t *testing.T) {
	t.Parallel()

	token := testAccessToken("user-42")
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: token, RefreshToken: "r1", TokenType: "bearer"})
	}))

	cred, err := c.Login(context.Background(), "u@example.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if cred.Identity.UserID != "user-42" {
		t.Fatalf("UserID = %q", cred.Identity.UserID)
	}
	if !cred.Authenticated() {
		t.Fatal("expected authenticated credential")
	}
}
