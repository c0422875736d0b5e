// Package transport owns the realtime socket bound to one conversation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Conn is one open realtime channel.
type Conn interface {
	// Read blocks until the next inbound payload arrives.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one payload.
	Write(ctx context.Context, data []byte) error
	// Close closes the channel with a close code and reason.
	Close(code int, reason string) error
}

// Dialer opens Conns.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Close codes used by the client itself.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// CloseError reports that the peer closed the channel.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d reason=%q", e.Code, e.Reason)
}

// DialError reports a failed open. StatusCode is the HTTP status of a
// rejected upgrade, zero when the server was never reached.
type DialError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dial %s: http %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dial %s: %v", e.URL, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// CloseInfo extracts the close code and reason from err. The code is -1 when
// err does not carry a close frame.
func CloseInfo(err error) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return -1, ""
}

// URL builds the realtime endpoint of a conversation. The token travels as a
// query parameter. http and https bases are mapped to ws and wss.
func URL(base string, convID int64, token string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/chat/" + strconv.FormatInt(convID, 10) + "/ws?token=" + url.QueryEscape(token)
}

// Redact hides the token query parameter of a realtime URL for logging.
func Redact(raw string) string {
	i := strings.Index(raw, "token=")
	if i < 0 {
		return raw
	}
	end := strings.IndexByte(raw[i:], '&')
	if end < 0 {
		return raw[:i] + "token=REDACTED"
	}
	return raw[:i] + "token=REDACTED" + raw[i+end:]
}
