// Package apperr defines the error taxonomy shared by services and the
// HTTP layer. Services return these sentinels (or types wrapping them);
// the transport maps them to status codes without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// validation
	ErrValidation = errors.New("validation failed")

	// not found
	ErrProductNotFound    = errors.New("product not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrAssignmentNotFound = errors.New("package assignment not found")
	ErrPaymentNotFound    = errors.New("payment not found")

	// ownership
	ErrOwnership = errors.New("resource belongs to another user")

	// stock / races
	ErrProductInactive   = errors.New("product is not active")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStockChanged      = errors.New("stock changed, refresh cart and retry")

	// service completion state machine
	ErrAssignmentNotActive     = errors.New("package assignment is not active")
	ErrServiceNotInPackage     = errors.New("service does not belong to this package")
	ErrTermsNotAccepted        = errors.New("all consent terms must be accepted")
	ErrConsentAlreadyExists    = errors.New("consent already recorded for this service")
	ErrConsentRequired         = errors.New("consent is required before this step")
	ErrServiceCardRequired     = errors.New("service card must be saved before this step")
	ErrServiceAlreadyCompleted = errors.New("service already completed")
	ErrNoOTPIssued             = errors.New("no OTP has been issued")
	ErrOTPExpired              = errors.New("OTP expired, request a new one")
	ErrOTPMismatch             = errors.New("incorrect OTP")
	ErrOTPAttemptsExceeded     = errors.New("too many incorrect attempts, request a new OTP")
	ErrRateLimited             = errors.New("too many OTP requests, try again later")

	// order lifecycle / refunds
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrReturnWindowExpired  = errors.New("return window has expired")
	ErrRefundInProgress     = errors.New("a refund is already in progress")
	ErrAlreadyRefunded      = errors.New("order has already been refunded")
	ErrRefundNotInitiated   = errors.New("no refund has been initiated")
	ErrInvalidRefundAmount  = errors.New("refund amount must be positive and not exceed the order total")
	ErrRefundMethodRequired = errors.New("refund method is required for COD orders")
	ErrInvalidBankDetails   = errors.New("invalid bank details for refund")
	ErrInvalidTransactionID = errors.New("transaction id must be at least 5 characters")

	// payments
	ErrPaymentNotCaptured        = errors.New("payment has not been captured")
	ErrPaymentVerificationFailed = errors.New("payment signature verification failed")

	// collaborators
	ErrGatewayFailure = errors.New("payment gateway request failed")
	ErrStorageFailure = errors.New("object storage request failed")
)

// FieldErrors carries itemized validation failures. It matches
// ErrValidation under errors.Is.
type FieldErrors struct {
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	return fmt.Sprintf("validation failed: %d invalid field(s)", len(e.Fields))
}

func (e *FieldErrors) Is(target error) bool { return target == ErrValidation }

// InsufficientStockError reports how much stock was actually available.
// It matches ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	ProductID uint64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// RequiresRefresh marks errors where the client must re-fetch state
// before retrying (optimistic reservation lost to a concurrent writer).
func RequiresRefresh(err error) bool {
	return errors.Is(err, ErrStockChanged)
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrAssignmentNotFound),
		errors.Is(err, ErrPaymentNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrOwnership):
		return http.StatusForbidden

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, ErrConsentAlreadyExists),
		errors.Is(err, ErrServiceAlreadyCompleted),
		errors.Is(err, ErrRefundInProgress),
		errors.Is(err, ErrAlreadyRefunded),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAssignmentNotActive):
		return http.StatusConflict

	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrProductInactive),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrStockChanged),
		errors.Is(err, ErrTermsNotAccepted),
		errors.Is(err, ErrConsentRequired),
		errors.Is(err, ErrServiceCardRequired),
		errors.Is(err, ErrNoOTPIssued),
		errors.Is(err, ErrOTPExpired),
		errors.Is(err, ErrOTPMismatch),
		errors.Is(err, ErrOTPAttemptsExceeded),
		errors.Is(err, ErrReturnWindowExpired),
		errors.Is(err, ErrRefundNotInitiated),
		errors.Is(err, ErrInvalidRefundAmount),
		errors.Is(err, ErrRefundMethodRequired),
		errors.Is(err, ErrInvalidBankDetails),
		errors.Is(err, ErrInvalidTransactionID),
		errors.Is(err, ErrPaymentNotCaptured),
		errors.Is(err, ErrPaymentVerificationFailed):
		return http.StatusBadRequest

	case errors.Is(err, ErrGatewayFailure),
		errors.Is(err, ErrStorageFailure):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
