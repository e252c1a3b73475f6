package carwings

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// Conn is one open push-channel socket.
type Conn interface {
	// Read blocks until the next text frame arrives.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens push-channel sockets.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// ServerCloseError is returned by Conn.Read when the server closed the
// socket with a close frame.
type ServerCloseError struct {
	Code   int
	Reason string
}

func (e *ServerCloseError) Error() string {
	return fmt.Sprintf("closed by server: %d %s", e.Code, e.Reason)
}

// ============================================================================
// WebSocket implementation
// ============================================================================

// maxFrameSize caps a single push frame; vehicle snapshots are a few KB.
const maxFrameSize = 1 << 20

// WebSocketDialer dials the push channel over WebSocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	opts := &websocket.DialOptions{HTTPHeader: header}
	if d != nil && d.HTTPClient != nil {
		opts.HTTPClient = d.HTTPClient
	}
	c, resp, err := websocket.Dial(ctx, endpoint, opts)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, fmt.Errorf("websocket dial: %w", &StatusError{Status: resp.StatusCode})
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.SetReadLimit(maxFrameSize)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.c.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &ServerCloseError{Code: int(ce.Code), Reason: ce.Reason}
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client disconnect")
}
