// Package apperr defines the application error taxonomy. Every failure that
// crosses a package boundary is an *Error with a kind, a user-facing message,
// a recoverability flag and a severity, so the API layer and the diagnostic
// log can treat errors uniformly.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Network
	KindInvalidURL       Kind = "network/invalid_url"
	KindConnectionFailed Kind = "network/connection_failed"
	KindTimeout          Kind = "network/timeout"
	KindServerError      Kind = "network/server_error"
	KindDecodingFailed   Kind = "network/decoding_failed"
	KindNoData           Kind = "network/no_data"
	KindRateLimited      Kind = "network/rate_limited"
	KindUnauthorized     Kind = "network/unauthorized"

	// Database
	KindInvalidEntity   Kind = "database/invalid_entity"
	KindNotFound        Kind = "database/not_found"
	KindReadFailed      Kind = "database/read_failed"
	KindWriteFailed     Kind = "database/write_failed"
	KindDeleteFailed    Kind = "database/delete_failed"
	KindMigrationFailed Kind = "database/migration_failed"
	KindCorruptData     Kind = "database/corrupt_data"

	// Validation
	KindInvalidInput  Kind = "validation/invalid_input"
	KindMissingField  Kind = "validation/missing_required_field"
	KindInvalidFormat Kind = "validation/invalid_format"

	// Authentication
	KindInvalidKey Kind = "auth/invalid_key"
	KindExpiredKey Kind = "auth/expired_key"
	KindMissingKey Kind = "auth/missing_key"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Error struct {
	Kind        Kind
	Message     string
	UserMessage string
	Recoverable bool
	Severity    Severity
	Status      int // HTTP status for server errors, 0 otherwise
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can test against the
// package sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ErrNotFound is the sentinel for exact-id lookup misses. Repositories return
// it directly; there is no fallback to "any row" anywhere.
var ErrNotFound = &Error{
	Kind:        KindNotFound,
	Message:     "record not found",
	UserMessage: "The requested item could not be found.",
	Recoverable: false,
	Severity:    SeverityWarning,
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.UserMessage != "" {
		return e.UserMessage
	}
	return "An unexpected error occurred. Please try again later."
}

func InvalidURL(raw string) *Error {
	return &Error{
		Kind:        KindInvalidURL,
		Message:     fmt.Sprintf("invalid url %q", raw),
		UserMessage: "The service endpoint is misconfigured.",
		Severity:    SeverityError,
	}
}

func ConnectionFailed(err error) *Error {
	return &Error{
		Kind:        KindConnectionFailed,
		Message:     "connection failed",
		UserMessage: "Could not reach the provider. Check your connection.",
		Recoverable: true,
		Severity:    SeverityWarning,
		Err:         err,
	}
}

func RequestTimeout(err error) *Error {
	return &Error{
		Kind:        KindTimeout,
		Message:     "request timed out",
		UserMessage: "The provider took too long to respond.",
		Recoverable: true,
		Severity:    SeverityWarning,
		Err:         err,
	}
}

func ServerError(status int, body string) *Error {
	kind := KindServerError
	userMsg := "The provider returned an error."
	switch status {
	case 401, 403:
		kind = KindUnauthorized
		userMsg = "The provider rejected your API key."
	case 429:
		kind = KindRateLimited
		userMsg = "You are sending requests too quickly. Please wait a moment."
	}
	return &Error{
		Kind:        kind,
		Message:     fmt.Sprintf("provider status %d: %s", status, truncate(body, 200)),
		UserMessage: userMsg,
		Recoverable: status == 429 || status >= 500,
		Severity:    SeverityError,
		Status:      status,
	}
}

func DecodingFailed(err error) *Error {
	return &Error{
		Kind:        KindDecodingFailed,
		Message:     "decode response",
		UserMessage: "The provider sent a response that could not be understood.",
		Severity:    SeverityError,
		Err:         err,
	}
}

func NoData(msg string) *Error {
	return &Error{
		Kind:        KindNoData,
		Message:     msg,
		UserMessage: "The provider returned an empty response.",
		Severity:    SeverityError,
	}
}

func ReadFailed(err error) *Error {
	return &Error{
		Kind:        KindReadFailed,
		Message:     "read from store",
		UserMessage: "Could not load your data.",
		Severity:    SeverityError,
		Err:         err,
	}
}

func WriteFailed(err error) *Error {
	return &Error{
		Kind:        KindWriteFailed,
		Message:     "write to store",
		UserMessage: "Could not save your changes.",
		Severity:    SeverityError,
		Err:         err,
	}
}

func DeleteFailed(err error) *Error {
	return &Error{
		Kind:        KindDeleteFailed,
		Message:     "delete from store",
		UserMessage: "Could not delete the item.",
		Severity:    SeverityError,
		Err:         err,
	}
}

func MigrationFailed(err error) *Error {
	return &Error{
		Kind:     KindMigrationFailed,
		Message:  "run migrations",
		Severity: SeverityCritical,
		Err:      err,
	}
}

func InvalidInput(msg string) *Error {
	return &Error{
		Kind:        KindInvalidInput,
		Message:     msg,
		UserMessage: msg,
		Recoverable: true,
		Severity:    SeverityInfo,
	}
}

func MissingField(field string) *Error {
	return &Error{
		Kind:        KindMissingField,
		Message:     fmt.Sprintf("missing required field %q", field),
		UserMessage: fmt.Sprintf("%s is required.", field),
		Recoverable: true,
		Severity:    SeverityInfo,
	}
}

func InvalidProvider(identifier string) *Error {
	return &Error{
		Kind:        KindInvalidFormat,
		Message:     fmt.Sprintf("unknown provider identifier %q", identifier),
		UserMessage: "This chat references a provider that is no longer supported.",
		Severity:    SeverityError,
	}
}

func MissingAPIKey(provider string) *Error {
	return &Error{
		Kind:        KindMissingKey,
		Message:     fmt.Sprintf("no api key stored for provider %q", provider),
		UserMessage: "Add an API key for this provider in Settings before sending.",
		Recoverable: true,
		Severity:    SeverityWarning,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
