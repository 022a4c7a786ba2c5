// Package api provides the catalog API client and its error types.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"
)

// Error is a non-2xx response from the catalog API.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	// Detail is the server's explanation, taken from the JSON "detail" field
	// when present and the raw body otherwise.
	Detail string
	// RetryAfter is when the server asked the client to come back, if it said.
	RetryAfter *time.Time
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// errorEnvelope is the JSON body the server sends with error statuses.
// detail is usually a string but validation errors carry a list.
type errorEnvelope struct {
	Detail     json.RawMessage `json:"detail"`
	RetryAfter *time.Time      `json:"retry_after"`
}

// newError builds an *Error from a failed response body and headers.
func newError(method, path string, resp *nethttp.Response, body []byte, now time.Time) *Error {
	apiErr := &Error{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Detail) > 0 {
		var s string
		if err := json.Unmarshal(env.Detail, &s); err == nil {
			apiErr.Detail = s
		} else {
			apiErr.Detail = string(env.Detail)
		}
		apiErr.RetryAfter = env.RetryAfter
	} else {
		apiErr.Detail = strings.TrimSpace(string(body))
	}

	if apiErr.RetryAfter == nil {
		apiErr.RetryAfter = parseRetryAfterHeader(resp.Header.Get("Retry-After"), now)
	}
	return apiErr
}

// parseRetryAfterHeader accepts both delay-seconds and HTTP-date forms.
func parseRetryAfterHeader(v string, now time.Time) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		t := now.Add(time.Duration(secs) * time.Second)
		return &t
	}
	if t, err := nethttp.ParseTime(v); err == nil {
		return &t
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsRetryable reports an admission refusal (429 or 503) that is worth retrying.
//
// Usage:
//
//	snap, err := client.RequestThumbnail(ctx, req)
//	if api.IsRetryable(err) {
//	    // back off and try again
//	}
func IsRetryable(err error) bool {
	code := StatusCode(err)
	return code == nethttp.StatusTooManyRequests || code == nethttp.StatusServiceUnavailable
}

// IsNotFound reports a 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == nethttp.StatusNotFound
}

// IsConflict reports a 409, which the server uses for policy refusals
// (unsupported file type, thumbnail not ready, cleanup refused).
func IsConflict(err error) bool {
	return StatusCode(err) == nethttp.StatusConflict
}

// Detail returns the server detail of err, or err.Error() for other errors.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}
