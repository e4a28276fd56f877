// Package apperr holds the error kinds shared by the order pipeline and the
// HTTP layer that renders them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation = errors.New("validation failed")

	// Gateway errors
	ErrGatewayAuth                 = errors.New("payment gateway authentication failed")
	ErrGatewayOrder                = errors.New("payment gateway order request failed")
	ErrSignatureVerificationFailed = errors.New("webhook signature verification failed")

	// Order errors
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotCompleted  = errors.New("order not completed")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrCaptureConflict    = errors.New("order already captured with a different capture id")
	ErrCatalogItemMissing = errors.New("catalog item not found")

	// Download errors
	ErrDownloadWindowExpired = errors.New("download window expired")
	ErrDownloadForbidden     = errors.New("requester is not the order owner")

	// Discount errors
	ErrDiscountInvalid      = errors.New("discount code invalid")
	ErrDiscountExpired      = errors.New("discount code expired")
	ErrDiscountLimitReached = errors.New("discount code usage limit reached")
	ErrMinOrderNotMet       = errors.New("order total below discount minimum")

	ErrEntitlementGenerationFailed = errors.New("license document generation failed")
	ErrStorage                     = errors.New("storage error")
)

// ValidationError reports a rejected input field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type kind struct {
	err    error
	code   string
	status int
}

// Order matters: the first matching kind wins.
var kinds = []kind{
	{ErrValidation, "validation_error", http.StatusBadRequest},
	{ErrCatalogItemMissing, "catalog_item_not_found", http.StatusBadRequest},
	{ErrDiscountInvalid, "discount_invalid", http.StatusUnprocessableEntity},
	{ErrDiscountExpired, "discount_expired", http.StatusUnprocessableEntity},
	{ErrDiscountLimitReached, "discount_limit_reached", http.StatusUnprocessableEntity},
	{ErrMinOrderNotMet, "min_order_not_met", http.StatusUnprocessableEntity},
	{ErrSignatureVerificationFailed, "signature_verification_failed", http.StatusUnauthorized},
	{ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{ErrOrderNotCompleted, "order_not_completed", http.StatusConflict},
	{ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{ErrCaptureConflict, "capture_conflict", http.StatusConflict},
	{ErrDownloadWindowExpired, "download_window_expired", http.StatusGone},
	{ErrDownloadForbidden, "download_forbidden", http.StatusForbidden},
	{ErrGatewayAuth, "gateway_auth_error", http.StatusBadGateway},
	{ErrGatewayOrder, "gateway_order_error", http.StatusBadGateway},
	{ErrEntitlementGenerationFailed, "entitlement_generation_failed", http.StatusInternalServerError},
	{ErrStorage, "storage_error", http.StatusInternalServerError},
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal_error"
}

// HTTPStatus maps err to the response status the API uses for it.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// IsDiscountError reports whether err is one of the discount rejection kinds.
func IsDiscountError(err error) bool {
	return errors.Is(err, ErrDiscountInvalid) ||
		errors.Is(err, ErrDiscountExpired) ||
		errors.Is(err, ErrDiscountLimitReached) ||
		errors.Is(err, ErrMinOrderNotMet)
}

// IsTerminalReconcileError reports errors that redelivering the same event
// can never fix.
func IsTerminalReconcileError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCaptureConflict) ||
		errors.Is(err, ErrOrderNotFound)
}
