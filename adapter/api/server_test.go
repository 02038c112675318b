package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogApp "github.com/felixgeelhaar/lessonpass/internal/catalog/application"
	catalog "github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
	catalogPersistence "github.com/felixgeelhaar/lessonpass/internal/catalog/infrastructure/persistence"
	enrollmentApp "github.com/felixgeelhaar/lessonpass/internal/enrollment/application"
	enrollmentPersistence "github.com/felixgeelhaar/lessonpass/internal/enrollment/infrastructure/persistence"
	paymentsApp "github.com/felixgeelhaar/lessonpass/internal/payments/application"
	payments "github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	paymentsPersistence "github.com/felixgeelhaar/lessonpass/internal/payments/infrastructure/persistence"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database/dbtest"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// stubGateway accepts webhooks of the form {"id","status"} signed "ok".
type stubGateway struct {
	mu        sync.Mutex
	next      int
	createErr error
}

func (g *stubGateway) CreatePayment(_ context.Context, _ payments.CreatePaymentRequest) (payments.CreatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return payments.CreatePaymentResult{}, g.createErr
	}
	g.next++
	id := fmt.Sprintf("AP-%d", g.next)
	return payments.CreatePaymentResult{ProviderPaymentID: id, RedirectURL: "https://checkout.example/" + id}, nil
}

func (g *stubGateway) QueryStatus(_ context.Context, id string) (payments.StatusReport, error) {
	return payments.StatusReport{ProviderPaymentID: id, Status: payments.StatusPending}, nil
}

func (g *stubGateway) IssueRefund(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	return payments.RefundResult{ProviderRefundID: "RF-" + req.RefundID.String()[:8]}, nil
}

func (g *stubGateway) VerifyWebhook(payload []byte, signature string) (payments.StatusReport, error) {
	if signature != "ok" {
		return payments.StatusReport{}, payments.ErrInvalidSignature
	}
	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ID == "" {
		return payments.StatusReport{}, payments.ErrMalformedPayload
	}
	return payments.StatusReport{ProviderPaymentID: body.ID, Status: payments.Status(body.Status), Raw: payload}, nil
}

type testServer struct {
	server  *Server
	gateway *stubGateway
	metrics *observability.InMemoryMetrics
	plan    *catalog.Plan
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn := dbtest.Open(t)
	uow := database.NewUnitOfWork(conn)
	outboxRepo := outbox.NewSQLRepository(conn)
	metrics := observability.NewInMemoryMetrics()
	gw := &stubGateway{}

	subs := enrollmentPersistence.NewSubscriptionRepository(conn)
	visits := enrollmentPersistence.NewVisitRepository(conn)
	engine := enrollmentApp.NewRedemptionEngine(subs, visits, outboxRepo, uow, nil, metrics)
	store := enrollmentApp.NewSubscriptionStore(subs, visits, outboxRepo, uow, nil, engine, enrollmentApp.StoreConfig{}, nil)

	plans := catalogApp.NewService(catalogPersistence.NewPlanRepository(conn), nil)
	plan, err := plans.AddPlan(ctx, catalogApp.AddPlanCommand{
		CenterID: uuid.New(),
		Name:     "Swimming",
		Prices: catalog.Prices{
			Four:      decimal.NewFromInt(15000),
			Eight:     decimal.NewFromInt(28000),
			Unlimited: decimal.NewFromInt(45000),
		},
		Currency: "KZT",
	})
	require.NoError(t, err)

	paymentRepo := paymentsPersistence.NewPaymentRepository(conn)
	refundRepo := paymentsPersistence.NewRefundRepository(conn)
	reconciler := paymentsApp.NewReconciler(paymentRepo, store, gw, outboxRepo, uow, paymentsApp.ReconcilerConfig{}, nil, metrics)
	bookings := paymentsApp.NewBookingService(store, paymentRepo, plans, gw, outboxRepo, uow, paymentsApp.BookingConfig{}, nil, metrics)
	refunds := paymentsApp.NewRefundProcessor(paymentRepo, refundRepo, gw, outboxRepo, uow, nil, metrics)

	health := observability.NewHealthRegistry()
	health.Register("database", observability.PingChecker("database", observability.HealthStatusUnhealthy, conn.Ping))

	handler := NewHandler(HandlerConfig{
		Bookings:      bookings,
		Subscriptions: store,
		Reconciler:    reconciler,
		Refunds:       refunds,
	})
	server := NewServer(DefaultServerConfig(), ServerDeps{
		Handler:        handler,
		Health:         health,
		Metrics:        metrics,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
	})
	return &testServer{server: server, gateway: gw, metrics: metrics, plan: plan}
}

func (ts *testServer) do(t *testing.T, method, path, account string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if account != "" {
		req.Header.Set(HeaderAccountID, account)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) book(t *testing.T, account, tariff string) bookingResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/bookings", account, map[string]string{
		"plan_id": ts.plan.ID().String(),
		"tariff":  tariff,
		"email":   "parent@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[bookingResponse](t, rec)
}

func (ts *testServer) settle(t *testing.T, providerID string, status payments.Status) *httptest.ResponseRecorder {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":%q,"status":%q}`, providerID, status))
	return ts.do(t, http.MethodPost, "/api/v1/webhooks/payments", "", payload, SignatureHeader, "ok")
}

func TestServer_Health(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	report := decode[observability.OverallHealth](t, rec)
	assert.Equal(t, observability.HealthStatusHealthy, report.Status)
	assert.Contains(t, report.Checks, "database")
}

func TestServer_Routes(t *testing.T) {
	ts := setupTestServer(t)
	id := uuid.NewString()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/metrics"},
		{http.MethodPost, "/api/v1/bookings"},
		{http.MethodGet, "/api/v1/subscriptions"},
		{http.MethodGet, "/api/v1/subscriptions/stats"},
		{http.MethodPost, "/api/v1/subscriptions/" + id + "/cancel"},
		{http.MethodPost, "/api/v1/subscriptions/" + id + "/payments"},
		{http.MethodPost, "/api/v1/vouchers/ABC/redeem"},
		{http.MethodGet, "/api/v1/payments"},
		{http.MethodGet, "/api/v1/payments/" + id},
		{http.MethodPost, "/api/v1/payments/" + id + "/reconcile"},
		{http.MethodPost, "/api/v1/payments/" + id + "/refunds"},
		{http.MethodGet, "/api/v1/payments/" + id + "/refunds"},
		{http.MethodPost, "/api/v1/webhooks/payments"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := ts.do(t, route.method, route.path, "acct-1", nil)
			assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code)
			if rec.Code == http.StatusNotFound {
				// A registered route answers 404 with a JSON body.
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestBookingWebhookRedeemFlow(t *testing.T) {
	ts := setupTestServer(t)

	booking := ts.book(t, "acct-1", "8")
	require.NotNil(t, booking.Payment)
	assert.False(t, booking.Activated)
	assert.Equal(t, "pending_payment", booking.Subscription.Status)
	assert.Equal(t, "https://checkout.example/AP-1", booking.RedirectURL)
	assert.Equal(t, "28000.00", booking.Payment.Amount)

	rec := ts.settle(t, "AP-1", payments.StatusSuccess)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decode[paymentsApp.Outcome](t, rec)
	assert.True(t, outcome.Applied)
	require.NotEmpty(t, outcome.VoucherCode)

	// A redelivered webhook is acknowledged without applying twice.
	rec = ts.settle(t, "AP-1", payments.StatusSuccess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[paymentsApp.Outcome](t, rec).Applied)

	rec = ts.do(t, http.MethodGet, "/api/v1/subscriptions?active=true", "acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Subscriptions []subscriptionDTO `json:"subscriptions"`
		Total         int               `json:"total"`
	}](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, outcome.VoucherCode, list.Subscriptions[0].VoucherCode)
	require.NotNil(t, list.Subscriptions[0].LessonsRemaining)
	assert.Equal(t, 8, *list.Subscriptions[0].LessonsRemaining)

	path := "/api/v1/vouchers/" + outcome.VoucherCode + "/redeem"
	rec = ts.do(t, http.MethodPost, path, "", map[string]string{"center_id": ts.plan.CenterID().String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 7, decode[enrollmentApp.Redemption](t, rec).LessonsRemaining)

	rec = ts.do(t, http.MethodPost, path, "", map[string]string{"center_id": uuid.NewString()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "location_mismatch", decode[map[string]any](t, rec)["code"])

	rec = ts.do(t, http.MethodGet, "/api/v1/subscriptions/stats", "acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]int](t, rec)
	assert.Equal(t, 1, stats["visits"])
	assert.Equal(t, 7, stats["lessons_remaining"])

	assert.Equal(t, int64(1), ts.metrics.GetCounter(observability.MetricHTTPRequests,
		observability.T("route", "POST /api/v1/bookings"), observability.T("status", "201")))
}

func TestWebhook_Rejections(t *testing.T) {
	ts := setupTestServer(t)
	ts.book(t, "acct-1", "4")

	payload := []byte(`{"id":"AP-1","status":"success"}`)
	rec := ts.do(t, http.MethodPost, "/api/v1/webhooks/payments", "", payload, SignatureHeader, "forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", decode[map[string]any](t, rec)["code"])

	rec = ts.do(t, http.MethodPost, "/api/v1/webhooks/payments", "", []byte(`{}`), SignatureHeader, "ok")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.settle(t, "AP-404", payments.StatusSuccess)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The forged delivery changed nothing: the genuine one still applies.
	rec = ts.settle(t, "AP-1", payments.StatusSuccess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[paymentsApp.Outcome](t, rec).Applied)
}

func TestCreateBooking_Validation(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name       string
		account    string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing account",
			body:       map[string]string{"plan_id": ts.plan.ID().String(), "tariff": "4"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "bad tariff",
			account:    "acct-1",
			body:       map[string]string{"plan_id": ts.plan.ID().String(), "tariff": "12"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_tariff",
		},
		{
			name:       "unknown plan",
			account:    "acct-1",
			body:       map[string]string{"plan_id": uuid.NewString(), "tariff": "4"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "unknown_plan",
		},
		{
			name:       "malformed JSON",
			account:    "acct-1",
			body:       []byte(`{"plan_id":`),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/bookings", tt.account, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decode[map[string]any](t, rec)["code"])
			}
		})
	}
}

func TestCreateBooking_ProviderDownThenRetry(t *testing.T) {
	ts := setupTestServer(t)
	ts.gateway.createErr = payments.ErrProviderUnavailable

	rec := ts.do(t, http.MethodPost, "/api/v1/bookings", "acct-1", map[string]string{
		"plan_id": ts.plan.ID().String(),
		"tariff":  "4",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	body := decode[struct {
		Code    string          `json:"code"`
		Booking bookingResponse `json:"booking"`
	}](t, rec)
	assert.Equal(t, "provider_unavailable", body.Code)
	assert.Equal(t, "pending_payment", body.Booking.Subscription.Status)
	require.NotNil(t, body.Booking.Payment)
	assert.Equal(t, "pending", body.Booking.Payment.Status)

	ts.gateway.createErr = nil
	subID := body.Booking.Subscription.ID.String()

	rec = ts.do(t, http.MethodPost, "/api/v1/subscriptions/"+subID+"/payments", "acct-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "another account cannot touch the subscription")

	rec = ts.do(t, http.MethodPost, "/api/v1/subscriptions/"+subID+"/payments", "acct-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	retry := decode[bookingResponse](t, rec)
	assert.Equal(t, "https://checkout.example/AP-1", retry.RedirectURL)

	rec = ts.do(t, http.MethodPost, "/api/v1/subscriptions/"+subID+"/payments", "acct-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "payment_in_progress", decode[map[string]any](t, rec)["code"])
}

func TestCancelSubscription(t *testing.T) {
	ts := setupTestServer(t)
	booking := ts.book(t, "acct-1", "4")
	subID := booking.Subscription.ID.String()

	rec := ts.do(t, http.MethodPost, "/api/v1/subscriptions/"+subID+"/cancel", "acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[subscriptionDTO](t, rec).Status)

	rec = ts.do(t, http.MethodGet, "/api/v1/payments/"+booking.Payment.ID.String(), "acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[paymentDTO](t, rec).Status)

	// A late success for the cancelled payment is acknowledged but ignored.
	rec = ts.settle(t, "AP-1", payments.StatusSuccess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[paymentsApp.Outcome](t, rec).Applied)

	rec = ts.do(t, http.MethodPost, "/api/v1/subscriptions/"+subID+"/cancel", "acct-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_processed", decode[map[string]any](t, rec)["code"])
}

func TestRefunds(t *testing.T) {
	ts := setupTestServer(t)
	booking := ts.book(t, "acct-1", "8")
	require.Equal(t, http.StatusOK, ts.settle(t, "AP-1", payments.StatusSuccess).Code)
	path := "/api/v1/payments/" + booking.Payment.ID.String() + "/refunds"

	rec := ts.do(t, http.MethodPost, path, "", map[string]string{"amount": "10000", "reason": "moved away"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	refund := decode[refundDTO](t, rec)
	assert.Equal(t, "10000.00", refund.Amount)
	assert.Equal(t, "completed", refund.Status)

	rec = ts.do(t, http.MethodPost, path, "", map[string]string{"amount": "20000"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "refund_exceeds_balance", decode[map[string]any](t, rec)["code"])

	rec = ts.do(t, http.MethodPost, path, "", map[string]string{"amount": "ten"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Refunds []refundDTO `json:"refunds"`
	}](t, rec)
	assert.Len(t, list.Refunds, 1, "refused requests leave no refund record")

	rec = ts.do(t, http.MethodGet, "/api/v1/payments/"+booking.Payment.ID.String(), "acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10000.00", decode[paymentDTO](t, rec).RefundedAmount)
}

func TestReconcilePayment_PendingAtProvider(t *testing.T) {
	ts := setupTestServer(t)
	booking := ts.book(t, "acct-1", "4")

	rec := ts.do(t, http.MethodPost, "/api/v1/payments/"+booking.Payment.ID.String()+"/reconcile", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decode[paymentsApp.Outcome](t, rec)
	assert.False(t, outcome.Applied)
	assert.Equal(t, payments.StatusPending, outcome.Status)

	rec = ts.do(t, http.MethodPost, "/api/v1/payments/not-a-uuid/reconcile", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPayment_OtherAccountIsNotFound(t *testing.T) {
	ts := setupTestServer(t)
	booking := ts.book(t, "acct-1", "4")

	rec := ts.do(t, http.MethodGet, "/api/v1/payments/"+booking.Payment.ID.String(), "acct-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPayments(t *testing.T) {
	ts := setupTestServer(t)
	first := ts.book(t, "acct-1", "4")
	second := ts.book(t, "acct-1", "8")
	ts.book(t, "acct-2", "4")
	require.Equal(t, http.StatusOK, ts.settle(t, "AP-1", payments.StatusSuccess).Code)

	rec := ts.do(t, http.MethodGet, "/api/v1/payments", "acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[struct {
		Payments []paymentDTO `json:"payments"`
		Total    int          `json:"total"`
	}](t, rec)
	require.Equal(t, 2, list.Total)
	ids := []uuid.UUID{list.Payments[0].ID, list.Payments[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first.Payment.ID, second.Payment.ID}, ids)

	rec = ts.do(t, http.MethodGet, "/api/v1/payments?limit=1", "acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string]any](t, rec)["payments"], 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/payments?limit=0", "acct-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/payments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDHeaders(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil, HeaderCorrelationID, "corr-42")

	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	assert.Equal(t, "corr-42", rec.Header().Get(HeaderCorrelationID))
}

func TestErrorFor_UnknownErrorIsInternal(t *testing.T) {
	apiErr := errorFor(fmt.Errorf("boom"))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "internal_error", apiErr.Code)
}

func TestParseBoolParam(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		defaultVal bool
		want       bool
	}{
		{"parse true", "active=true", false, true},
		{"parse 1 as true", "active=1", false, true},
		{"parse false", "active=false", true, false},
		{"missing param returns default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			assert.Equal(t, tt.want, parseBoolParam(req, "active", tt.defaultVal))
		})
	}
}
