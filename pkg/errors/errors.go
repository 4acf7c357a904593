package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidParticipants Code = "INVALID_PARTICIPANTS"
	CodeEmptyContent        Code = "EMPTY_CONTENT"
	CodeNotAParticipant     Code = "NOT_A_PARTICIPANT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeTimeout             Code = "TIMEOUT"
	CodeInternal            Code = "INTERNAL"
)

var (
	ErrInvalidParticipants  = New(CodeInvalidParticipants, "could not start this conversation")
	ErrEmptyContent         = New(CodeEmptyContent, "please enter a message")
	ErrNotAParticipant      = New(CodeNotAParticipant, "not a participant of this conversation")
	ErrNotFound             = New(CodeNotFound, "not found")
	ErrConversationNotFound = New(CodeNotFound, "conversation not found")
	ErrMessageNotFound      = New(CodeNotFound, "message not found")
	ErrNotAccepted          = New(CodeBadRequest, "conversation is not accepted")
	ErrBadRequest           = New(CodeBadRequest, "bad request")
	ErrUnauthorized         = New(CodeUnauthorized, "unauthorized")
	ErrInvalidToken         = New(CodeUnauthorized, "invalid or expired token")
	ErrRateLimited          = New(CodeRateLimited, "rate limit exceeded")
	ErrStoreUnavailable     = New(CodeStoreUnavailable, "store unavailable, please try again")
	ErrTimeout              = New(CodeTimeout, "request timed out, please try again")
	ErrInternalServer       = New(CodeInternal, "internal server error")
)

// ErrConflictRetryExhausted никогда не отдаётся клиенту напрямую: всегда
// заворачивается в STORE_UNAVAILABLE.
var ErrConflictRetryExhausted = errors.New("conversation create race did not settle")

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"error"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is сравнивает только коды, поэтому errors.Is(err, ErrStoreUnavailable)
// срабатывает для любой обёртки с тем же кодом.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func StoreUnavailable(cause error) error {
	return Wrap(CodeStoreUnavailable, "store unavailable, please try again", cause)
}

func Timeout(cause error) error {
	return Wrap(CodeTimeout, "request timed out, please try again", cause)
}

// CodeOf возвращает код ошибки или CodeInternal для ошибок вне таксономии.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf возвращает безопасный для пользователя текст ошибки.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// Retryable: только инфраструктурные ошибки имеет смысл повторять.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeStoreUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

type APIError struct {
	Message   string `json:"error"`
	Code      Code   `json:"code"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(err error) *APIError {
	return &APIError{
		Message:   MessageOf(err),
		Code:      CodeOf(err),
		Retryable: Retryable(err),
	}
}

func HTTPStatusFromError(err error) int {
	switch CodeOf(err) {
	case CodeInvalidParticipants, CodeEmptyContent, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotAParticipant:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
