package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a failed request. Callers branch on the kind and never on HTTP status.
type Kind int

const (
	KindUnknown Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindValidationFailed
	KindServerError
	KindNetworkUnavailable
	KindClientFault
)

var kindNames = map[Kind]string{
	KindUnknown:            "Unknown",
	KindBadRequest:         "BadRequest",
	KindUnauthorized:       "Unauthorized",
	KindForbidden:          "Forbidden",
	KindNotFound:           "NotFound",
	KindConflict:           "Conflict",
	KindValidationFailed:   "ValidationFailed",
	KindServerError:        "ServerError",
	KindNetworkUnavailable: "NetworkUnavailable",
	KindClientFault:        "ClientFault",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the typed failure returned for every unsuccessful gateway call.
type Error struct {
	Kind    Kind
	Message string // Human readable, safe to show to the user
	Status  int    // HTTP status, zero when no response was received
	Err     error  // Underlying transport or decode error, if any
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrBadRequest         = &Error{Kind: KindBadRequest}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrValidationFailed   = &Error{Kind: KindValidationFailed}
	ErrServerError        = &Error{Kind: KindServerError}
	ErrUnknown            = &Error{Kind: KindUnknown}
	ErrNetworkUnavailable = &Error{Kind: KindNetworkUnavailable}
	ErrClientFault        = &Error{Kind: KindClientFault}
)

// KindOf returns the kind of a gateway error anywhere in err's chain, and false for
// errors that did not come from the gateway.
func KindOf(err error) (Kind, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind, true
	}
	return KindUnknown, false
}

// Messages used when the server does not supply one.
const (
	msgBadRequest         = "invalid request parameters"
	msgUnauthorized       = "unauthorized, please log in again"
	msgForbidden          = "access forbidden"
	msgNotFound           = "requested resource does not exist"
	msgConflict           = "resource conflict"
	msgValidationFailed   = "request validation failed"
	msgServerError        = "internal server error"
	msgNetworkUnavailable = "network connection failed, please check your network settings"
	msgClientFault        = "request failed"

	noticeSessionExpired = "session expired, please log in again"
	noticeForbidden      = "insufficient permission, access denied"
	noticeServerError    = "internal server error, please try again later"
)

func clientFault(err error) *Error {
	msg := msgClientFault
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &Error{Kind: KindClientFault, Message: msg, Err: err}
}

func networkUnavailable(err error) *Error {
	return &Error{Kind: KindNetworkUnavailable, Message: msgNetworkUnavailable, Err: err}
}

func orDefault(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}
