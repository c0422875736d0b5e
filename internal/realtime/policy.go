package realtime

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/transport"
)

// CloseClass is the reconnect decision for a lost connection.
type CloseClass int

const (
	// Transient failures are retried with backoff.
	Transient CloseClass = iota
	// Normal closures end the cycle without a retry.
	Normal
	// Auth failures end the cycle and raise the unauthorized signal.
	Auth
)

func (c CloseClass) String() string {
	switch c {
	case Normal:
		return "normal"
	case Auth:
		return "auth"
	default:
		return "transient"
	}
}

// Policy configures reconnects and close classification.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	AuthCloseCodes   []int
	NormalCloseCodes []int
	// AuthReasons are matched case-insensitively as substrings of the close reason.
	AuthReasons []string

	// TypingInterval is the minimum spacing of typing=true frames per conversation.
	TypingInterval time.Duration
}

// DefaultPolicy returns the stock reconnect policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		MaxAttempts:      10,
		AuthCloseCodes:   []int{1008, 4001, 4003},
		NormalCloseCodes: []int{1000},
		AuthReasons:      []string{"unauth", "forbidden", "token", "expired"},
		TypingInterval:   2 * time.Second,
	}
}

// Delay returns the wait before reconnect attempt n (0-based):
// min(MaxDelay, BaseDelay * 2^n).
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.BaseDelay
	for range n {
		if d >= p.MaxDelay || d > (1<<62)/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	return min(d, p.MaxDelay)
}

// Classify decides how a lost connection is handled.
func (p Policy) Classify(err error) CloseClass {
	var de *transport.DialError
	if errors.As(err, &de) {
		if de.StatusCode == http.StatusUnauthorized || de.StatusCode == http.StatusForbidden {
			return Auth
		}
		return Transient
	}
	code, reason := transport.CloseInfo(err)
	if code < 0 {
		return Transient
	}
	if slices.Contains(p.AuthCloseCodes, code) {
		return Auth
	}
	lower := strings.ToLower(reason)
	for _, r := range p.AuthReasons {
		if r != "" && strings.Contains(lower, strings.ToLower(r)) {
			return Auth
		}
	}
	if slices.Contains(p.NormalCloseCodes, code) {
		return Normal
	}
	return Transient
}
