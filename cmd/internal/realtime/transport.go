package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const maxFrameBytes = 1 << 20

// CloseCode is a WebSocket close status code.
type CloseCode int

const (
	// CloseNormal is the intentional client-initiated close. It is the
	// only code that suppresses auto-reconnect.
	CloseNormal CloseCode = 1000

	ClosePolicyViolation CloseCode = 1008
	CloseAbnormal        CloseCode = 1006
)

// CloseError reports the close status observed when a read fails because
// the connection closed.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d reason=%q", e.Code, e.Reason)
}

// closeCodeOf extracts the close code from a read error. Errors that are
// not close frames count as abnormal.
func closeCodeOf(err error) CloseCode {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

// TransportConn is one established realtime connection.
type TransportConn interface {
	// Read blocks until the next frame arrives. When the connection
	// closes it returns a *CloseError carrying the peer's close code.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one frame.
	Write(ctx context.Context, data []byte) error

	// Close performs the closing handshake with the given status.
	Close(code CloseCode, reason string) error
}

// Transport opens realtime connections. The state machine depends only on
// this capability so tests can drive it with an in-memory fake.
type Transport interface {
	Dial(ctx context.Context, url string) (TransportConn, error)
}

// WebSocketTransport is the production Transport.
type WebSocketTransport struct {
	// HTTPClient is used for the upgrade request. nil means the default
	// client.
	HTTPClient *http.Client
}

func (t *WebSocketTransport) Dial(ctx context.Context, url string) (TransportConn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: t.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	mt, data, err := c.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, &CloseError{Code: CloseCode(status), Reason: err.Error()}
		}
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code CloseCode, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

var _ Transport = (*WebSocketTransport)(nil)

// DialTimeout bounds the upgrade exchange; reads in steady state are
// unbounded (the server pings, we answer).
const DialTimeout = 10 * time.Second
