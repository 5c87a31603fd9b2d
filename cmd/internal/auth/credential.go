package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Identity is the authenticated-user view decoded from the access token.
type Identity struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	IsAdmin       bool   `json:"is_admin"`
}

// Credential is the access/refresh pair plus the identity it belongs to.
// The realtime connection reads it; only a completed login or refresh
// writes it.
type Credential struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	Identity     Identity `json:"identity"`
}

// Authenticated reports whether the credential can open a realtime session.
func (c Credential) Authenticated() bool {
	return c.AccessToken != "" && c.Identity.UserID != ""
}

// IdentityFromAccessToken decodes the JWT payload segment without verifying
// the signature. The client is not the verifier — the server rejects a
// tampered token on first use — but the identity claims are needed locally
// for the realtime handshake and sender checks.
func IdentityFromAccessToken(token string) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, ErrMalformedToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		IsAdmin       bool   `json:"is_admin"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return Identity{}, fmt.Errorf("%w: missing sub claim", ErrMalformedToken)
	}

	return Identity{
		UserID:        claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		IsAdmin:       claims.IsAdmin,
	}, nil
}

// CredentialFromTokens builds a Credential from a token pair returned by
// the auth API, decoding the identity from the access token.
func CredentialFromTokens(accessToken, refreshToken string) (Credential, error) {
	identity, err := IdentityFromAccessToken(accessToken)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Identity:     identity,
	}, nil
}
