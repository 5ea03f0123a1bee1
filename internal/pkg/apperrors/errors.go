package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrNoBots         ErrorType = "NO_BOTS_AVAILABLE"
	ErrRiskBlocked    ErrorType = "RISK_BLOCKED"
	ErrItemUnavail    ErrorType = "ITEM_UNAVAILABLE"
	ErrListingOffline ErrorType = "LISTING_INACTIVE"
	ErrTerminalState  ErrorType = "TERMINAL_STATE"
	ErrCircuitOpen    ErrorType = "CIRCUIT_OPEN"
	ErrRateLimited    ErrorType = "RATE_LIMITED"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrUpstream       ErrorType = "UPSTREAM_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may retry the operation later.
// Permanent validation failures are never retried automatically.
func (e *AppError) Retryable() bool {
	switch e.Type {
	case ErrNoBots, ErrCircuitOpen, ErrRateLimited, ErrUpstream, ErrInternal:
		return true
	}
	return false
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewNoBots(msg string) *AppError {
	return New(ErrNoBots, msg, nil)
}

func NewRiskBlocked(msg string) *AppError {
	return New(ErrRiskBlocked, msg, nil)
}

func NewItemUnavailable(msg string) *AppError {
	return New(ErrItemUnavail, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == t
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrRiskBlocked, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrItemUnavail, ErrListingOffline:
		return http.StatusConflict
	case ErrTerminalState:
		return http.StatusConflict
	case ErrNoBots, ErrCircuitOpen:
		return http.StatusServiceUnavailable
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrNoBots:
		return "All escrow bots are busy or offline. Retry shortly."
	case ErrRiskBlocked:
		return "Trade blocked by risk checks. Contact support if unexpected."
	case ErrItemUnavail:
		return "The item is no longer in the seller's tradable inventory."
	case ErrCircuitOpen:
		return "Trading platform temporarily unreachable. Retry later."
	case ErrRateLimited:
		return "Rate limited by the trading platform. Retry later."
	default:
		return ""
	}
}
