package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"-"`
	Retryable bool   `json:"retryable"`
	Cause     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes surfaced to callers.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodePurchaseIDRequired   = "PURCHASE_ID_REQUIRED"
	CodeMissingID            = "MISSING_ID"
	CodePayloadMismatch      = "PAYLOAD_MISMATCH"
	CodeIntentTerminal       = "PAYMENT_INTENT_TERMINAL"
	CodeIntentRetrieveFailed = "PAYMENT_INTENT_RETRIEVE_FAILED"
	CodeGatewayUnavailable   = "PAYMENT_GATEWAY_UNAVAILABLE"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrPurchaseIDRequired() *AppError {
	return &AppError{Code: CodePurchaseIDRequired, Message: "purchaseId is required", Status: 400}
}

func ErrMissingID() *AppError {
	return &AppError{Code: CodeMissingID, Message: "purchaseId or paymentIntentId is required", Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

// ErrPayloadMismatch reports a reused idempotency key carrying a different payload.
// Never retryable.
func ErrPayloadMismatch(msg string) *AppError {
	return &AppError{Code: CodePayloadMismatch, Message: msg, Status: 409}
}

// ErrIntentTerminal reports an attempt to reuse a completed or cancelled intent.
// The caller must start a new purchase.
func ErrIntentTerminal(intentID string, status IntentStatus) *AppError {
	return &AppError{
		Code:    CodeIntentTerminal,
		Message: fmt.Sprintf("payment intent %s is %s", intentID, status),
		Status:  409,
	}
}

func ErrIntentRetrieveFailed(intentID string, cause error) *AppError {
	return &AppError{
		Code:      CodeIntentRetrieveFailed,
		Message:   fmt.Sprintf("could not retrieve payment intent %s", intentID),
		Status:    503,
		Retryable: true,
		Cause:     cause,
	}
}

func ErrGatewayUnavailable(cause error) *AppError {
	return &AppError{
		Code:      CodeGatewayUnavailable,
		Message:   "payment gateway unavailable",
		Status:    503,
		Retryable: true,
		Cause:     cause,
	}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429, Retryable: true}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Retryable: true, Cause: cause}
}

// IsCode reports whether err wraps an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
