package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies a provider failure into the shared taxonomy every adapter
// must translate its HTTP errors into.
type Kind string

const (
	KindRateLimited  Kind = "RATE_LIMITED"
	KindNotFound     Kind = "NOT_FOUND"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindTransient    Kind = "TRANSIENT"
	KindPermanent    Kind = "PERMANENT"
)

type ProviderError struct {
	Kind       Kind
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error (%s, status %d): %s: %v", e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("provider error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }
func IsRateLimited(err error) bool  { return KindOf(err) == KindRateLimited }

// ClassifyStatus translates an HTTP response status into the taxonomy.
// 401 means the token was revoked externally; 403 and 429 are quota pushback;
// 404/410 mean the remote object vanished; 408 and 5xx are retryable.
func ClassifyStatus(status int, retryAfter string, body string) *ProviderError {
	pe := &ProviderError{StatusCode: status, Message: body}
	switch {
	case status == http.StatusUnauthorized:
		pe.Kind = KindUnauthorized
	case status == http.StatusForbidden, status == http.StatusTooManyRequests:
		pe.Kind = KindRateLimited
		pe.RetryAfter = parseRetryAfter(retryAfter)
	case status == http.StatusNotFound, status == http.StatusGone:
		pe.Kind = KindNotFound
	case status == http.StatusRequestTimeout, status >= 500:
		pe.Kind = KindTransient
	default:
		pe.Kind = KindPermanent
	}
	return pe
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 30 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 30 * time.Second
}
