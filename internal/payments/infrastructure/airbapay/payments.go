package airbapay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
)

type createPaymentRequest struct {
	InvoiceID       string          `json:"invoice_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	AccountID       string          `json:"account_id,omitempty"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	TerminalID      string          `json:"terminal_id,omitempty"`
	CompanyID       string          `json:"company_id,omitempty"`
	SuccessBackURL  string          `json:"success_back_url,omitempty"`
	FailureBackURL  string          `json:"failure_back_url,omitempty"`
	SuccessCallback string          `json:"success_callback,omitempty"`
	FailureCallback string          `json:"failure_callback,omitempty"`
}

type paymentResponse struct {
	ID           string `json:"id"`
	InvoiceID    string `json:"invoice_id"`
	Status       string `json:"status"`
	RedirectURL  string `json:"redirect_url"`
	ErrorMessage string `json:"error_message"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	ExtID  string          `json:"ext_id"`
	Reason string          `json:"reason,omitempty"`
}

type refundResponse struct {
	ID string `json:"id"`
}

// CreatePayment registers a checkout. The local payment id travels as the
// invoice id, which the provider treats as the idempotency key and echoes in
// webhooks.
func (c *Client) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (domain.CreatePaymentResult, error) {
	body, err := c.call(ctx, "create", http.MethodPost, "/api/v1/payments", createPaymentRequest{
		InvoiceID:       req.PaymentID.String(),
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		AccountID:       req.Customer.AccountID,
		Email:           req.Customer.Email,
		Phone:           req.Customer.Phone,
		TerminalID:      c.config.TerminalID,
		CompanyID:       c.config.CompanyID,
		SuccessBackURL:  c.config.SuccessURL,
		FailureBackURL:  c.config.FailureURL,
		SuccessCallback: c.config.CallbackURL,
		FailureCallback: c.config.CallbackURL,
	})
	if err != nil {
		return domain.CreatePaymentResult{}, err
	}

	var resp paymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.CreatePaymentResult{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if resp.ID == "" || resp.RedirectURL == "" {
		return domain.CreatePaymentResult{}, fmt.Errorf("%w: payment id or redirect url missing", domain.ErrMalformedPayload)
	}
	return domain.CreatePaymentResult{ProviderPaymentID: resp.ID, RedirectURL: resp.RedirectURL}, nil
}

// QueryStatus fetches the provider's current view of a payment.
func (c *Client) QueryStatus(ctx context.Context, providerPaymentID string) (domain.StatusReport, error) {
	body, err := c.call(ctx, "query", http.MethodGet, "/api/v1/payments/"+url.PathEscape(providerPaymentID), nil)
	if err != nil {
		return domain.StatusReport{}, err
	}
	var resp paymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.StatusReport{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if resp.ID == "" {
		resp.ID = providerPaymentID
	}
	return toReport(resp, body)
}

// IssueRefund returns amount of a captured payment to the payer.
func (c *Client) IssueRefund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	path := "/api/v1/payments/" + url.PathEscape(req.ProviderPaymentID) + "/return"
	body, err := c.call(ctx, "refund", http.MethodPut, path, refundRequest{
		Amount: req.Amount,
		ExtID:  req.RefundID.String(),
		Reason: req.Reason,
	})
	if err != nil {
		return domain.RefundResult{}, err
	}
	var resp refundResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.RefundResult{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if resp.ID == "" {
		resp.ID = req.RefundID.String()
	}
	return domain.RefundResult{ProviderRefundID: resp.ID}, nil
}

func toReport(resp paymentResponse, raw []byte) (domain.StatusReport, error) {
	status, err := mapStatus(resp.Status)
	if err != nil {
		return domain.StatusReport{}, err
	}
	return domain.StatusReport{
		ProviderPaymentID: resp.ID,
		InvoiceID:         resp.InvoiceID,
		Status:            status,
		Detail:            resp.ErrorMessage,
		Raw:               json.RawMessage(raw),
	}, nil
}

// mapStatus folds the provider's states into ours. Interim states are
// pending.
func mapStatus(s string) (domain.Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new", "auth", "process", "processing", "pending", "3ds":
		return domain.StatusPending, nil
	case "success", "charged":
		return domain.StatusSuccess, nil
	case "error", "expired", "rejected", "failed", "declined":
		return domain.StatusFailed, nil
	case "cancelled", "canceled", "reversed":
		return domain.StatusCancelled, nil
	case "refunded", "returned":
		return domain.StatusRefunded, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", domain.ErrMalformedPayload, s)
	}
}
