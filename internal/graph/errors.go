package graph

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes the resolution ladder distinguishes. The REST API reports
// them in the error body alongside the HTTP status.
const (
	codeItemNotFound  = "ErrorItemNotFound"
	codeMalformedID   = "ErrorInvalidIdMalformed"
	codeAccessDenied  = "ErrorAccessDenied"
	codeResponseParse = "ResponseParseError"
)

// APIError is an error response from the mailbox REST API, classified for
// the resolution ladder's retry decisions.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	transient  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailbox API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, code, message string) *APIError {
	err := &APIError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	}

	return err
}

// IsNotFound reports whether err is a not-found response. Freshly saved
// items return this transiently until host-side indexing catches up.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == codeItemNotFound
}

// IsMalformedID reports whether err indicates the message identifier is not
// valid for the REST API (typically an unconverted Exchange id).
func IsMalformedID(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeMalformedID
}

// IsMailboxMismatch reports whether err indicates the identifier belongs to
// a different mailbox than the one addressed by the request.
func IsMailboxMismatch(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == codeAccessDenied {
		return true
	}
	return strings.Contains(apiErr.Message, "does not belong")
}

// IsParseOrServer reports whether err is a response-parse failure or a
// server-side (5xx) error.
func IsParseOrServer(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeResponseParse || apiErr.StatusCode >= 500
}

// IsTransient reports whether err is worth retrying as-is.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.transient
}
