package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind int

const (
	// KindNetwork - transport failure before or during I/O
	KindNetwork Kind = iota
	// KindRateLimited - provider returned HTTP 429
	KindRateLimited
	// KindProvider - provider returned a non-2xx response
	KindProvider
	// KindProtocol - response body could not be decoded
	KindProtocol
	// KindStoreUnavailable - backing store is unreachable
	KindStoreUnavailable
	// KindStoreConflict - optimistic-version collision on save
	KindStoreConflict
	// KindNotFound - entity does not exist
	KindNotFound
	// KindValidation - caller passed invalid input
	KindValidation
	// KindInternal - everything else
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "Network"
	case KindRateLimited:
		return "RateLimited"
	case KindProvider:
		return "ProviderError"
	case KindProtocol:
		return "ProtocolError"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindStoreConflict:
		return "StoreConflict"
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "ValidationError"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the kinded error carried across component boundaries.
type Error struct {
	Kind       Kind
	StatusCode int    // HTTP status code if applicable
	Message    string // human / LLM-friendly message
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a kinded error wrapping a cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Err: err, Message: message}
}

// WithStatus attaches an HTTP status code.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// KindOf extracts the kind of an error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	if isNetworkError(err) {
		return KindNetwork
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var kerr *Error
	return errors.As(err, &kerr) && kerr.Kind == kind
}

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}

	var kerr *Error
	if errors.As(err, &kerr) {
		switch kerr.Kind {
		case KindNetwork, KindRateLimited, KindStoreUnavailable:
			return true
		case KindProvider:
			return isTransientHTTPStatus(kerr.StatusCode)
		default:
			return false
		}
	}

	if isNetworkError(err) {
		return true
	}
	if isSyscallError(err) {
		return true
	}

	return false
}

// FormatForLLM converts technical errors into actionable messages the model
// can reason about.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}

	var kerr *Error
	if errors.As(err, &kerr) && kerr.Message != "" {
		return kerr.Message
	}

	lowerErr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lowerErr, "connection refused"):
		return "Service is not running. Please check if the required service is started."
	case strings.Contains(lowerErr, "rate limit") || strings.Contains(lowerErr, "429"):
		return "API rate limit reached. The system will automatically retry with backoff."
	case strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded"):
		return "Request timed out. The operation may be too complex. Try breaking it into smaller steps."
	case strings.Contains(lowerErr, "unauthorized") || strings.Contains(lowerErr, "401"):
		return "Authentication failed. Please check your API key configuration."
	case strings.Contains(lowerErr, "not found") || strings.Contains(lowerErr, "404"):
		return "Resource not found. Please verify the identifier."
	default:
		return err.Error()
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
		"eof",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
