package syncer

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

// FailureKind tells the sync loop how to react to a failed write.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureNetwork stops the current pass; the batch stays queued.
	FailureNetwork
	// FailureServer keeps the batch queued and moves on to the next one.
	FailureServer
	// FailureValidation means the payload was rejected as malformed.
	FailureValidation
	// FailureCanceled means the caller gave up; connectivity is unknown.
	FailureCanceled
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureNetwork:
		return "network_error"
	case FailureServer:
		return "server_error"
	case FailureValidation:
		return "validation_error"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var networkMessagePatterns = []string{
	"timeout",
	"timed out",
	"connection",
	"fetch failed",
	"failed to fetch",
	"network",
	"no such host",
	"eof",
	"broken pipe",
}

// Classify maps err onto the sync failure taxonomy.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	switch {
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, appErrors.ErrNetwork), errors.Is(err, appErrors.ErrOffline):
		return FailureNetwork
	case errors.Is(err, context.DeadlineExceeded):
		return FailureNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return FailureNetwork
	}

	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		if appErr.Status >= 400 && appErr.Status < 500 {
			return FailureValidation
		}
		return FailureServer
	}

	message := strings.ToLower(err.Error())
	for _, pattern := range networkMessagePatterns {
		if strings.Contains(message, pattern) {
			return FailureNetwork
		}
	}
	return FailureServer
}

// IsNetwork reports whether err should be retried through the outbox after
// connectivity returns.
func IsNetwork(err error) bool {
	return Classify(err) == FailureNetwork
}
