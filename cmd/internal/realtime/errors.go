package realtime

import "errors"

var (
	// ErrNotAuthenticated is returned by Connect when the credential store
	// holds no authenticated identity.
	ErrNotAuthenticated = errors.New("realtime: not authenticated")

	// ErrAuthTimeout is returned when the server does not acknowledge the
	// authentication frame within the handshake window.
	ErrAuthTimeout = errors.New("realtime: authentication ack timeout")

	// ErrAuthRejected is returned when the server answers the handshake
	// with an authentication-failure frame.
	ErrAuthRejected = errors.New("realtime: authentication rejected")

	// ErrConnectionClosed is returned when the transport closes before the
	// handshake completes.
	ErrConnectionClosed = errors.New("realtime: connection closed")
)
