package reliability

import (
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// CloseKind classifies how an upstream websocket ended.
type CloseKind string

const (
	CloseNormal   CloseKind = "normal"
	CloseAbnormal CloseKind = "abnormal"
	CloseLocal    CloseKind = "local"
)

// ClassifyClose maps a websocket read error to a CloseKind. localClosing
// reports whether this side initiated the shutdown.
func ClassifyClose(err error, localClosing bool) CloseKind {
	if localClosing {
		return CloseLocal
	}
	if err == nil {
		return CloseNormal
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return CloseNormal
	}
	if errors.Is(err, net.ErrClosed) {
		return CloseLocal
	}
	return CloseAbnormal
}

// CloseCode extracts the websocket close code, or 0 when err is not a close frame.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// IsRetryableCloseCode reports whether an upstream close code is worth a reconnect.
func IsRetryableCloseCode(code int) bool {
	switch code {
	case websocket.CloseServiceRestart, websocket.CloseTryAgainLater, websocket.CloseInternalServerErr, websocket.CloseAbnormalClosure:
		return true
	default:
		return false
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes seen during the upstream handshake.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
