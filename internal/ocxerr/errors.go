// Package ocxerr defines the gateway's typed error kinds. The mapping from
// a kind to an HTTP status code lives at the API edge, in internal/api's
// writeDomainError.
package ocxerr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for HTTP mapping and logging.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindDisabled         Kind = "disabled"
	KindNotAllowed       Kind = "not_allowed"
	KindAlreadyExists    Kind = "already_exists"
	KindAuthentication   Kind = "authentication"
	KindSignatureInvalid Kind = "signature_invalid"
	KindValidation       Kind = "validation"
	KindOAuth2           Kind = "oauth2"
	KindOAuth1           Kind = "oauth1"
	KindRateLimited      Kind = "rate_limited"
	KindInternal         Kind = "internal"
)

// Error is a domain error carrying a Kind for HTTP mapping plus a wrapped
// cause. Construct with the Kind-specific helpers below rather than this
// type directly.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NotFound(what string) error      { return newErr(KindNotFound, what+" not found") }
func Disabled(what string) error      { return newErr(KindDisabled, what+" is disabled") }
func NotAllowed(msg string) error     { return newErr(KindNotAllowed, msg) }
func AlreadyExists(what string) error { return newErr(KindAlreadyExists, what+" already exists") }
func Authentication(msg string) error { return newErr(KindAuthentication, msg) }
func SignatureInvalid() error {
	// Deliberately uninformative: signature failures and replay-window
	// failures must be indistinguishable to the caller.
	return newErr(KindSignatureInvalid, "webhook verification failed")
}
func Validation(msg string) error { return newErr(KindValidation, msg) }
func OAuth2(msg string, cause error) error {
	return &Error{Kind: KindOAuth2, Message: msg, Cause: cause}
}
func OAuth1(msg string, cause error) error {
	return &Error{Kind: KindOAuth1, Message: msg, Cause: cause}
}
func RateLimited(retryAfterSec int) error {
	return newErr(KindRateLimited, fmt.Sprintf("rate limited, retry after %ds", retryAfterSec))
}
func Internal(msg string, cause error) error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for errors
// that were never classified (programmer error, unexpected DB failure, …).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
