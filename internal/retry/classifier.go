package retry

import (
	"errors"
	"net"
	"net/textproto"
	"strings"
	"syscall"
)

// ftpServiceNotAvailable is the FTP reply code for a temporarily unavailable server.
const ftpServiceNotAvailable = 421

// fatalPatterns mark errors that no amount of waiting will fix.
var fatalPatterns = []string{
	"unable to authenticate",
	"no supported methods remain",
	"knownhosts: key mismatch",
	"knownhosts: key is unknown",
	"host key mismatch",
	"login incorrect",
	"permission denied",
}

// transientPatterns mark errors from layers that do not expose typed errors.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"no route to host",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"unexpected eof",
	"handshake failed: eof",
	"too many connections",
}

// NetworkErrorClassifier implements ErrorClassifier for SSH and FTP connection errors.
type NetworkErrorClassifier struct{}

// NewNetworkErrorClassifier creates a new network error classifier.
func NewNetworkErrorClassifier() *NetworkErrorClassifier {
	return &NetworkErrorClassifier{}
}

// IsTransient determines if an error is temporary and retryable.
func (c *NetworkErrorClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range fatalPatterns {
		if strings.Contains(msg, pattern) {
			return false
		}
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code == ftpServiceNotAvailable
	}

	if c.isNetworkError(err) {
		return true
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// isNetworkError checks for network-level errors.
func (c *NetworkErrorClassifier) isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		if opErr.Err != nil {
			switch {
			case errors.Is(opErr.Err, syscall.ECONNREFUSED),
				errors.Is(opErr.Err, syscall.ECONNRESET),
				errors.Is(opErr.Err, syscall.ENETUNREACH),
				errors.Is(opErr.Err, syscall.EHOSTUNREACH):
				return true
			}
		}
	}

	return false
}
