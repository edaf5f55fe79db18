package session

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when an operation is attempted while another one is
// still pending. The State returned alongside it is the unchanged current
// snapshot.
var ErrBusy = errors.New("session: another operation is in progress")

// Kind classifies operation failures.
type Kind string

const (
	KindProviderUnavailable        Kind = "provider_unavailable"
	KindSignInCancelledOrFailed    Kind = "sign_in_cancelled_or_failed"
	KindIncompleteProviderResponse Kind = "incomplete_provider_response"
	KindTokenExchangeFailed        Kind = "token_exchange_failed"
	KindPersistenceFailure         Kind = "persistence_failure"
	KindRestoreFailure             Kind = "restore_failure"
	KindCredentialsRejected        Kind = "credentials_rejected"
	KindRegistrationFailed         Kind = "registration_failed"
	KindGenericOperationFailure    Kind = "generic_operation_failure"
)

func (k Kind) describe() string {
	switch k {
	case KindProviderUnavailable:
		return "identity provider unavailable"
	case KindSignInCancelledOrFailed:
		return "sign-in cancelled or failed"
	case KindIncompleteProviderResponse:
		return "incomplete provider response"
	case KindTokenExchangeFailed:
		return "token exchange failed"
	case KindPersistenceFailure:
		return "could not store credentials"
	case KindRestoreFailure:
		return "could not restore session"
	case KindCredentialsRejected:
		return "credentials rejected"
	case KindRegistrationFailed:
		return "registration failed"
	default:
		return "operation failed"
	}
}

// Sentinels for errors.Is against *Error values of the matching Kind.
var (
	ErrProviderUnavailable        = &Error{Kind: KindProviderUnavailable}
	ErrSignInCancelledOrFailed    = &Error{Kind: KindSignInCancelledOrFailed}
	ErrIncompleteProviderResponse = &Error{Kind: KindIncompleteProviderResponse}
	ErrTokenExchangeFailed        = &Error{Kind: KindTokenExchangeFailed}
	ErrPersistenceFailure         = &Error{Kind: KindPersistenceFailure}
	ErrRestoreFailure             = &Error{Kind: KindRestoreFailure}
	ErrCredentialsRejected        = &Error{Kind: KindCredentialsRejected}
	ErrRegistrationFailed         = &Error{Kind: KindRegistrationFailed}
	ErrGenericOperationFailure    = &Error{Kind: KindGenericOperationFailure}
)

// Error is a classified operation failure.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.describe()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a sentinel (an *Error with only Kind set) of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Info renders e for State.LastError.
func (e *Error) Info() *ErrorInfo {
	return &ErrorInfo{Kind: e.Kind, Message: e.Error()}
}

var (
	errNoProvider       = errors.New("no identity provider configured")
	errNoAuthenticator  = errors.New("no password authenticator configured")
	errMissingIdentity  = errors.New("missing profile")
	errMissingToken     = errors.New("missing token")
	errMissingProviderT = errors.New("missing provider token")
)

// panicError carries a panic recovered from a collaborator.
type panicError struct{ v any }

func (p *panicError) Error() string { return fmt.Sprintf("unexpected panic: %v", p.v) }

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{v: r}
		}
	}()
	return fn()
}

// classify wraps err as kind unless it is a recovered panic, which is always
// a generic failure.
func classify(op string, kind Kind, err error) *Error {
	var pe *panicError
	if errors.As(err, &pe) {
		kind = KindGenericOperationFailure
	}
	return newError(op, kind, err)
}
