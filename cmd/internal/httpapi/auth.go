package httpapi

import (
	"context"
	"net/http"

	"mergemeet/cmd/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Login exchanges email and password for a credential pair. The result
// is returned, not stored; the caller decides whether to adopt it.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Credential, error) {
	var resp tokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", nil, loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return auth.Credential{}, err
	}
	return auth.CredentialFromTokens(resp.AccessToken, resp.RefreshToken)
}

// Register creates an account and returns the initial credential pair.
func (c *Client) Register(ctx context.Context, email, password, name string) (auth.Credential, error) {
	var resp tokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", nil, registerRequest{Email: email, Password: password, Name: name}, &resp)
	if err != nil {
		return auth.Credential{}, err
	}
	return auth.CredentialFromTokens(resp.AccessToken, resp.RefreshToken)
}

// AdminLogin authenticates against the elevated login endpoint.
func (c *Client) AdminLogin(ctx context.Context, email, password string) (auth.Credential, error) {
	var resp tokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/admin-login", nil, loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return auth.Credential{}, err
	}
	return auth.CredentialFromTokens(resp.AccessToken, resp.RefreshToken)
}

// RefreshTokens performs the bare token rotation call. It is the
// auth.RefreshFunc handed to the coordinator; it does not consult or
// update the store, and the refresh endpoint is exempt from the 401
// replay so a failed rotation cannot recurse into another refresh.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (auth.Credential, error) {
	var resp tokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/refresh", nil, refreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		return auth.Credential{}, err
	}
	return auth.CredentialFromTokens(resp.AccessToken, resp.RefreshToken)
}
