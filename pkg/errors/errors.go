package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAlreadyJoined     Kind = "already_joined"
	KindNotJoinable       Kind = "auction_not_joinable"
	KindBidTooLow         Kind = "bid_too_low"
	KindNotMember         Kind = "not_member"
	KindLedger            Kind = "ledger_inconsistency"
	KindAlreadySettled    Kind = "already_settled"
	KindSchedulerMiss     Kind = "scheduler_miss"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindRateLimited       Kind = "rate_limited"
	KindBadMessage        Kind = "bad_message"
	KindInternal          Kind = "internal"
)

type AppError struct {
	Code    int    // HTTP status code or custom error code
	Kind    Kind   // Taxonomy bucket, matched by errors.Is
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

const (
	ErrInvalidToken       = 1001
	ErrAuctionNotFound    = 1002
	ErrBidTooLow          = 1003
	ErrAuctionClosed      = 1004
	ErrWebSocketUpgrade   = 1005
	ErrBadMessageFormat   = 1006
	ErrUnknownMessageType = 1007
	ErrRateLimited        = 1008

	ErrInternalServer = 500
)

// Sentinels for errors.Is. Every AppError of the same Kind matches.
var (
	ErrValidation          = &AppError{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound            = &AppError{Kind: KindNotFound, Message: "not found"}
	ErrConflict            = &AppError{Kind: KindConflict, Message: "conflict"}
	ErrInsufficientFunds   = &AppError{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrAlreadyJoined       = &AppError{Kind: KindAlreadyJoined, Message: "already joined"}
	ErrNotJoinable         = &AppError{Kind: KindNotJoinable, Message: "auction not joinable"}
	ErrBidRejected         = &AppError{Kind: KindBidTooLow, Message: "bid too low"}
	ErrNotMember           = &AppError{Kind: KindNotMember, Message: "not a room member"}
	ErrLedgerInconsistency = &AppError{Kind: KindLedger, Message: "ledger inconsistency"}
	ErrAlreadySettled      = &AppError{Kind: KindAlreadySettled, Message: "already settled"}
	ErrSchedulerMiss       = &AppError{Kind: KindSchedulerMiss, Message: "scheduled job target missing"}
	ErrUnauthorized        = &AppError{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden           = &AppError{Kind: KindForbidden, Message: "forbidden"}
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Kind so that wrapped errors compare equal to the sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || t.Kind == "" {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	// Conflict is the umbrella for the join/bid/settle conflicts.
	return t.Kind == KindConflict && e.Kind.conflict()
}

func (k Kind) conflict() bool {
	switch k {
	case KindConflict, KindAlreadyJoined, KindNotJoinable, KindBidTooLow, KindLedger, KindAlreadySettled:
		return true
	}
	return false
}

// ToJSON renders the error as a websocket "error" message.
func (e *AppError) ToJSON() string {
	payload := map[string]any{
		"type": "error",
		"data": map[string]any{
			"code":    e.Code,
			"kind":    e.Kind,
			"message": e.Message,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return `{"type":"error","data":{"code":500,"message":"internal server error"}}`
	}
	return string(raw)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	var app *AppError
	if stderrors.As(err, &app) {
		return &AppError{Code: app.Code, Kind: app.Kind, Message: message, Err: err}
	}
	return &AppError{Code: ErrInternalServer, Kind: KindInternal, Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Kind: kindForCode(code), Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Code: statusForKind(kind), Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// KindOf returns the Kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Kind
	}
	return KindInternal
}

// HTTPStatus maps any error to the status code reported to REST callers.
func HTTPStatus(err error) int {
	var app *AppError
	if !stderrors.As(err, &app) {
		return http.StatusInternalServerError
	}
	return statusForKind(app.Kind)
}

func statusForKind(kind Kind) int {
	switch kind {
	case KindValidation, KindInsufficientFunds, KindBadMessage:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConflict, KindAlreadyJoined, KindNotJoinable, KindBidTooLow, KindNotMember, KindLedger, KindAlreadySettled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func kindForCode(code int) Kind {
	switch code {
	case http.StatusBadRequest, ErrBadMessageFormat, ErrUnknownMessageType:
		return KindBadMessage
	case http.StatusUnauthorized, ErrInvalidToken:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound, ErrAuctionNotFound:
		return KindNotFound
	case ErrBidTooLow:
		return KindBidTooLow
	case ErrAuctionClosed:
		return KindNotJoinable
	case ErrRateLimited:
		return KindRateLimited
	}
	return KindInternal
}

func Join(errs ...error) error { return stderrors.Join(errs...) }
