package auth

import "errors"

var (
	// ErrNotAuthenticated is returned when an operation requires stored
	// credentials and the store is empty.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrMalformedToken is returned when an access token cannot be decoded
	// into identity claims.
	ErrMalformedToken = errors.New("malformed access token")

	// ErrSessionExpired is the terminal refresh outcome: the stored refresh
	// token was rejected and the credentials have been cleared.
	ErrSessionExpired = errors.New("session expired")

	// ErrSealedKeySize is returned when the at-rest sealing key has the
	// wrong length.
	ErrSealedKeySize = errors.New("sealing key must be 32 bytes")
)
