package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	enrollmentApp "github.com/felixgeelhaar/lessonpass/internal/enrollment/application"
	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	paymentsApp "github.com/felixgeelhaar/lessonpass/internal/payments/application"
	payments "github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

const maxBodyBytes = 1 << 20

// Handler serves the lesson-pass API.
type Handler struct {
	bookings      *paymentsApp.BookingService
	subscriptions *enrollmentApp.SubscriptionStore
	reconciler    *paymentsApp.Reconciler
	refunds       *paymentsApp.RefundProcessor
	logger        *slog.Logger
}

// HandlerConfig holds dependencies for the handler.
type HandlerConfig struct {
	Bookings      *paymentsApp.BookingService
	Subscriptions *enrollmentApp.SubscriptionStore
	Reconciler    *paymentsApp.Reconciler
	Refunds       *paymentsApp.RefundProcessor
	Logger        *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		bookings:      cfg.Bookings,
		subscriptions: cfg.Subscriptions,
		reconciler:    cfg.Reconciler,
		refunds:       cfg.Refunds,
		logger:        cfg.Logger,
	}
}

type subscriptionDTO struct {
	ID               uuid.UUID  `json:"id"`
	PlanID           uuid.UUID  `json:"plan_id"`
	CenterID         uuid.UUID  `json:"center_id"`
	DependentID      string     `json:"dependent_id,omitempty"`
	Tariff           string     `json:"tariff"`
	Unlimited        bool       `json:"unlimited"`
	LessonsTotal     *int       `json:"lessons_total"`
	LessonsRemaining *int       `json:"lessons_remaining"`
	VoucherCode      string     `json:"voucher_code,omitempty"`
	Status           string     `json:"status"`
	ActivationPolicy string     `json:"activation_policy"`
	PurchasedAt      time.Time  `json:"purchased_at"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}

func toSubscriptionDTO(s *enrollment.Subscription) subscriptionDTO {
	dto := subscriptionDTO{
		ID:               s.ID(),
		PlanID:           s.PlanID(),
		CenterID:         s.CenterID(),
		DependentID:      s.Owner().DependentID,
		Tariff:           string(s.Tariff()),
		Unlimited:        s.Tariff().IsUnlimited(),
		VoucherCode:      s.VoucherCode(),
		Status:           string(s.Status()),
		ActivationPolicy: string(s.ActivationPolicy()),
		PurchasedAt:      s.PurchasedAt(),
		ActivatedAt:      s.ActivatedAt(),
		ExpiresAt:        s.ExpiresAt(),
		CancelledAt:      s.CancelledAt(),
	}
	if !dto.Unlimited {
		total, remaining := s.LessonsTotal(), s.LessonsRemaining()
		dto.LessonsTotal = &total
		dto.LessonsRemaining = &remaining
	}
	return dto
}

type paymentDTO struct {
	ID                uuid.UUID  `json:"id"`
	SubscriptionID    uuid.UUID  `json:"subscription_id"`
	Amount            string     `json:"amount"`
	RefundedAmount    string     `json:"refunded_amount"`
	Currency          string     `json:"currency"`
	Description       string     `json:"description"`
	Status            string     `json:"status"`
	ProviderPaymentID string     `json:"provider_payment_id,omitempty"`
	RedirectURL       string     `json:"redirect_url,omitempty"`
	ErrorDetail       string     `json:"error_detail,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toPaymentDTO(p *payments.Payment) paymentDTO {
	return paymentDTO{
		ID:                p.ID(),
		SubscriptionID:    p.SubscriptionID(),
		Amount:            p.Amount().StringFixed(2),
		RefundedAmount:    p.RefundedAmount().StringFixed(2),
		Currency:          p.Currency(),
		Description:       p.Description(),
		Status:            string(p.Status()),
		ProviderPaymentID: p.ProviderPaymentID(),
		RedirectURL:       p.RedirectURL(),
		ErrorDetail:       p.ErrorDetail(),
		ProcessedAt:       p.ProcessedAt(),
		CreatedAt:         p.CreatedAt(),
	}
}

type refundDTO struct {
	ID               uuid.UUID `json:"id"`
	PaymentID        uuid.UUID `json:"payment_id"`
	Amount           string    `json:"amount"`
	Reason           string    `json:"reason,omitempty"`
	Status           string    `json:"status"`
	ProviderRefundID string    `json:"provider_refund_id,omitempty"`
	ErrorDetail      string    `json:"error_detail,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toRefundDTO(r *payments.Refund) refundDTO {
	return refundDTO{
		ID:               r.ID(),
		PaymentID:        r.PaymentID(),
		Amount:           r.Amount().StringFixed(2),
		Reason:           r.Reason(),
		Status:           string(r.Status()),
		ProviderRefundID: r.ProviderRefundID(),
		ErrorDetail:      r.ErrorDetail(),
		CreatedAt:        r.CreatedAt(),
	}
}

type bookingResponse struct {
	Subscription subscriptionDTO `json:"subscription"`
	Payment      *paymentDTO     `json:"payment,omitempty"`
	RedirectURL  string          `json:"redirect_url,omitempty"`
	Activated    bool            `json:"activated"`
}

func toBookingResponse(res paymentsApp.BookingResult) bookingResponse {
	out := bookingResponse{
		Subscription: toSubscriptionDTO(res.Subscription),
		RedirectURL:  res.RedirectURL,
		Activated:    res.Activated,
	}
	if res.Payment != nil {
		p := toPaymentDTO(res.Payment)
		out.Payment = &p
	}
	return out
}

type bookingRequest struct {
	PlanID      string `json:"plan_id"`
	Tariff      string `json:"tariff"`
	DependentID string `json:"dependent_id"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

// CreateBooking handles POST /api/v1/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req bookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "plan_id must be a UUID")
		return
	}

	res, err := h.bookings.Book(r.Context(), paymentsApp.BookCommand{
		Owner:    enrollment.Owner{AccountID: account, DependentID: req.DependentID},
		PlanID:   planID,
		Tariff:   req.Tariff,
		Customer: payments.Customer{AccountID: account, Email: req.Email, Phone: req.Phone},
	})
	if err != nil {
		apiErr := h.failure(r, "booking failed", err)
		body := apiErr.body()
		// A provider failure still leaves a pending subscription the
		// caller can retry payment for.
		if res.Subscription != nil {
			body["booking"] = toBookingResponse(res)
		}
		writeJSON(w, apiErr.Status, body)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(res))
}

// CancelSubscription handles POST /api/v1/subscriptions/{id}/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	cancelled, err := h.bookings.CancelBooking(r.Context(), sub.ID())
	if err != nil {
		h.writeFailure(w, r, "cancel failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(cancelled))
}

type retryPaymentRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// RetryPayment handles POST /api/v1/subscriptions/{id}/payments
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	var req retryPaymentRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	account := sub.Owner().AccountID
	res, err := h.bookings.RetryPayment(r.Context(), sub.ID(), payments.Customer{AccountID: account, Email: req.Email, Phone: req.Phone})
	if err != nil {
		h.writeFailure(w, r, "payment retry failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(res))
}

// ListSubscriptions handles GET /api/v1/subscriptions
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	owner := enrollment.Owner{AccountID: account, DependentID: r.URL.Query().Get("dependent")}

	list := h.subscriptions.ListForOwner
	if parseBoolParam(r, "active", false) {
		list = h.subscriptions.ListActiveForOwner
	}
	subs, err := list(r.Context(), owner)
	if err != nil {
		h.writeFailure(w, r, "failed to list subscriptions", err)
		return
	}

	dtos := make([]subscriptionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubscriptionDTO(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": dtos,
		"total":         len(dtos),
	})
}

// SubscriptionStats handles GET /api/v1/subscriptions/stats
func (h *Handler) SubscriptionStats(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	owner := enrollment.Owner{AccountID: account, DependentID: r.URL.Query().Get("dependent")}
	stats, err := h.subscriptions.VisitStats(r.Context(), owner)
	if err != nil {
		h.writeFailure(w, r, "failed to compute visit stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type redeemRequest struct {
	CenterID string `json:"center_id"`
}

// RedeemVoucher handles POST /api/v1/vouchers/{code}/redeem
func (h *Handler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	centerID, err := uuid.Parse(req.CenterID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "center_id must be a UUID")
		return
	}

	res, err := h.subscriptions.RedeemOne(r.Context(), r.PathValue("code"), centerID)
	if err != nil {
		h.writeFailure(w, r, "redemption refused", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPayments handles GET /api/v1/payments: the caller's newest payments
// across all their subscriptions.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	limit, ok := parseIntParam(w, r, "limit", paymentsApp.DefaultHistoryLimit)
	if !ok {
		return
	}
	list, err := h.bookings.ListPaymentsForAccount(r.Context(), account, limit)
	if err != nil {
		h.writeFailure(w, r, "failed to list payments", err)
		return
	}

	dtos := make([]paymentDTO, len(list))
	for i, p := range list {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payments": dtos,
		"total":    len(dtos),
	})
}

// GetPayment handles GET /api/v1/payments/{id}. With refresh=true a
// pending payment is first reconciled against the provider.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.bookings.GetPayment(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "failed to load payment", err)
		return
	}
	sub, err := h.subscriptions.Get(r.Context(), p.SubscriptionID())
	if err != nil || sub.Owner().AccountID != account {
		writeAPIError(w, ErrNotFound)
		return
	}

	if parseBoolParam(r, "refresh", false) && !p.Status().IsTerminal() {
		if _, err := h.reconciler.ReconcileStatus(r.Context(), id); err != nil {
			h.logger.InfoContext(r.Context(), "live status unavailable", "payment_id", id, "error", err)
		} else if p, err = h.bookings.GetPayment(r.Context(), id); err != nil {
			h.writeFailure(w, r, "failed to load payment", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// ReconcilePayment handles POST /api/v1/payments/{id}/reconcile
func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	outcome, err := h.reconciler.ReconcileStatus(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type refundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// CreateRefund handles POST /api/v1/payments/{id}/refunds
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req refundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}

	refund, err := h.refunds.RequestRefund(r.Context(), id, amount, req.Reason)
	if err != nil {
		h.writeFailure(w, r, "refund failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefundDTO(refund))
}

// ListRefunds handles GET /api/v1/payments/{id}/refunds
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	refunds, err := h.refunds.ListRefunds(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "failed to list refunds", err)
		return
	}
	dtos := make([]refundDTO, len(refunds))
	for i, rf := range refunds {
		dtos[i] = toRefundDTO(rf)
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunds": dtos})
}

// PaymentWebhook handles POST /api/v1/webhooks/payments. The payload is
// verified before anything is read from the store.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	outcome, err := h.reconciler.HandleWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		h.writeFailure(w, r, "webhook rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "X-Signature"

func (h *Handler) ownedSubscription(w http.ResponseWriter, r *http.Request) (*enrollment.Subscription, bool) {
	account, ok := requireAccount(w, r)
	if !ok {
		return nil, false
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return nil, false
	}
	sub, err := h.subscriptions.Get(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "failed to load subscription", err)
		return nil, false
	}
	if sub.Owner().AccountID != account {
		writeAPIError(w, errorFor(enrollment.ErrSubscriptionNotFound))
		return nil, false
	}
	return sub, true
}

// failure logs err at a level matching its class and returns its HTTP form.
func (h *Handler) failure(r *http.Request, msg string, err error) *APIError {
	apiErr := errorFor(err)
	switch {
	case apiErr.Status >= http.StatusInternalServerError:
		h.logger.ErrorContext(r.Context(), msg, "error", err)
	case apiErr.Status == http.StatusUnauthorized:
		h.logger.WarnContext(r.Context(), msg, "error", err)
	default:
		h.logger.DebugContext(r.Context(), msg, "error", err)
	}
	return apiErr
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	writeAPIError(w, h.failure(r, msg, err))
}

// Helper functions

func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	account := observability.AccountIDFromContext(r.Context())
	if account == "" {
		account = r.Header.Get(HeaderAccountID)
	}
	if account == "" {
		writeAPIError(w, ErrUnauthorized)
		return "", false
	}
	return account, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseIntParam(w http.ResponseWriter, r *http.Request, key string, defaultVal int) (int, bool) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal, true
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 || n > 100 {
		writeError(w, http.StatusBadRequest, key+" must be between 1 and 100")
		return 0, false
	}
	return n, true
}

func parseBoolParam(r *http.Request, key string, defaultVal bool) bool {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1"
}
