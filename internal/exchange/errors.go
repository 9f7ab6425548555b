package exchange

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies an API failure for the atomic-job exception resolver.
type ErrorKind int

const (
	// KindTransient covers network failures, 5xx and timeouts.
	KindTransient ErrorKind = iota
	// KindRateLimited covers 429/418 and exchange-specific limit codes.
	KindRateLimited
	// KindOrderNotFound covers queries for orders the exchange no longer has.
	KindOrderNotFound
	// KindInvalidRequest covers 4xx validation rejections.
	KindInvalidRequest
	// KindAuth covers signature and credential failures; never retried.
	KindAuth
)

// APIError is the typed failure every adapter returns for non-2xx responses.
type APIError struct {
	Exchange   string
	Endpoint   string
	StatusCode int
	Code       string // exchange-specific error code, when present
	Message    string
	Kind       ErrorKind
	// RetryAfter carries the rate-limit hint when the exchange sent one.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: [%s] %s", e.Exchange, e.Endpoint, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: HTTP %d %s", e.Exchange, e.Endpoint, e.StatusCode, e.Message)
}

// IsTransient reports whether err is a retryable transient exchange failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindTransient
	}
	return false
}

// IsRateLimited reports whether err is an exchange rate-limit rejection.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindRateLimited
	}
	return false
}

// IsOrderNotFound reports whether err means the order no longer exists.
func IsOrderNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindOrderNotFound
	}
	return false
}

// IsInvalidRequest reports whether err is a validation rejection that no
// retry can fix.
func IsInvalidRequest(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindInvalidRequest
	}
	return false
}

// IsAuthFailure reports whether err is a credential or signature failure.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindAuth
	}
	return false
}

// ClassifyHTTP assigns the default kind for an HTTP status code; adapters
// override it when the exchange payload carries a more specific code.
func ClassifyHTTP(status int) ErrorKind {
	switch {
	case status == 429 || status == 418:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuth
	case status >= 500:
		return KindTransient
	default:
		return KindInvalidRequest
	}
}
