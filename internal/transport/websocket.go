package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds one inbound payload.
const DefaultReadLimit = 1 << 20

// WebSocketDialer opens Conns over WebSocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	opts := &websocket.DialOptions{HTTPClient: d.HTTPClient}
	c, resp, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		de := &DialError{URL: Redact(rawURL), Err: err}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return nil, de
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return translate(w.c.Write(ctx, websocket.MessageText, data))
}

func (w *wsConn) Close(code int, reason string) error {
	return w.c.Close(websocket.StatusCode(code), reason)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return err
}
