package api

import (
	"errors"
	"fmt"
	"net/http"

	catalog "github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	payments "github.com/felixgeelhaar/lessonpass/internal/payments/domain"
)

// APIError represents an API error.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) body() map[string]any {
	return map[string]any{
		"error":   http.StatusText(e.Status),
		"code":    e.Code,
		"message": e.Message,
	}
}

// Common API errors
var (
	ErrBadRequest = &APIError{
		Status:  http.StatusBadRequest,
		Code:    "bad_request",
		Message: "Invalid request",
	}
	ErrUnauthorized = &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "unauthorized",
		Message: "X-Account-ID header is required",
	}
	ErrNotFound = &APIError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: "Resource not found",
	}
	ErrInternalServer = &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "Internal server error",
	}
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Ordered: the first target matched by errors.Is wins, so wrapped provider
// errors resolve to their most specific cause.
var errorMappings = []errorMapping{
	{enrollment.ErrInvalidTariff, http.StatusBadRequest, "invalid_tariff"},
	{enrollment.ErrInvalidOwner, http.StatusBadRequest, "invalid_owner"},
	{enrollment.ErrEmptyVoucher, http.StatusBadRequest, "invalid_voucher"},
	{catalog.ErrUnknownTariff, http.StatusBadRequest, "invalid_tariff"},
	{catalog.ErrUnknownPlan, http.StatusBadRequest, "unknown_plan"},
	{catalog.ErrInvalidPlan, http.StatusBadRequest, "invalid_plan"},
	{payments.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{payments.ErrMalformedPayload, http.StatusBadRequest, "malformed_payload"},

	{payments.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},

	{enrollment.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{enrollment.ErrVoucherNotFound, http.StatusNotFound, "voucher_not_found"},
	{payments.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},

	{enrollment.ErrExhausted, http.StatusConflict, "exhausted"},
	{enrollment.ErrNotActive, http.StatusConflict, "not_active"},
	{enrollment.ErrLocationMismatch, http.StatusConflict, "location_mismatch"},
	{enrollment.ErrNotPending, http.StatusConflict, "already_processed"},
	{payments.ErrAlreadyProcessed, http.StatusConflict, "already_processed"},
	{payments.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
	{payments.ErrNotRefundable, http.StatusConflict, "not_refundable"},
	{payments.ErrRefundExceedsBalance, http.StatusConflict, "refund_exceeds_balance"},

	{payments.ErrNoProvider, http.StatusNotImplemented, "no_provider"},
	{payments.ErrVoucherExhausted, http.StatusInternalServerError, "voucher_exhausted"},
	{payments.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	{payments.ErrStatusUnknown, http.StatusServiceUnavailable, "status_unknown"},
	{payments.ErrInvalidRequest, http.StatusBadGateway, "provider_rejected"},
}

// errorFor translates an application error into its HTTP form. Unknown
// errors become a 500 without leaking their text.
func errorFor(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return &APIError{Status: m.status, Code: m.code, Message: m.target.Error()}
		}
	}
	return ErrInternalServer
}
