package application_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	catalogApplication "github.com/felixgeelhaar/lessonpass/internal/catalog/application"
	catalog "github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
	catalogPersistence "github.com/felixgeelhaar/lessonpass/internal/catalog/infrastructure/persistence"
	enrollmentApplication "github.com/felixgeelhaar/lessonpass/internal/enrollment/application"
	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	enrollmentPersistence "github.com/felixgeelhaar/lessonpass/internal/enrollment/infrastructure/persistence"
	"github.com/felixgeelhaar/lessonpass/internal/payments/application"
	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	"github.com/felixgeelhaar/lessonpass/internal/payments/infrastructure/persistence"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database/dbtest"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// fakeGateway plays the provider. Payments are keyed by invoice, so
// registering the same local payment twice returns the same reference.
// Webhooks are JSON {"id","invoice_id","status"} signed with the literal
// signature "valid".
type fakeGateway struct {
	mu         sync.Mutex
	next       int
	statuses   map[string]domain.Status
	invoices   map[uuid.UUID]string
	createErr  error
	lostReply  error
	queryErr   error
	refundErr  error
	created    []domain.CreatePaymentRequest
	refunds    []domain.RefundRequest
	queryCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]domain.Status{}, invoices: map[uuid.UUID]string{}}
}

// CreatePayment fails with createErr before registering anything, or with
// lostReply after the payment was registered.
func (g *fakeGateway) CreatePayment(_ context.Context, req domain.CreatePaymentRequest) (domain.CreatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return domain.CreatePaymentResult{}, g.createErr
	}
	g.created = append(g.created, req)
	id, ok := g.invoices[req.PaymentID]
	if !ok {
		g.next++
		id = fmt.Sprintf("P%d", g.next)
		g.invoices[req.PaymentID] = id
		g.statuses[id] = domain.StatusPending
	}
	if g.lostReply != nil {
		return domain.CreatePaymentResult{}, g.lostReply
	}
	return domain.CreatePaymentResult{ProviderPaymentID: id, RedirectURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, id string) (domain.StatusReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if g.queryErr != nil {
		return domain.StatusReport{}, g.queryErr
	}
	status, ok := g.statuses[id]
	if !ok {
		return domain.StatusReport{}, domain.ErrInvalidRequest
	}
	return domain.StatusReport{ProviderPaymentID: id, Status: status}, nil
}

func (g *fakeGateway) IssueRefund(_ context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return domain.RefundResult{}, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return domain.RefundResult{ProviderRefundID: fmt.Sprintf("R%d", len(g.refunds))}, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signature string) (domain.StatusReport, error) {
	if signature != "valid" {
		return domain.StatusReport{}, domain.ErrInvalidSignature
	}
	var body struct {
		ID        string `json:"id"`
		InvoiceID string `json:"invoice_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ID == "" {
		return domain.StatusReport{}, domain.ErrMalformedPayload
	}
	return domain.StatusReport{
		ProviderPaymentID: body.ID,
		InvoiceID:         body.InvoiceID,
		Status:            domain.Status(body.Status),
		Raw:               payload,
	}, nil
}

// invoiceOf returns the provider reference registered for a local payment.
func (g *fakeGateway) invoiceOf(paymentID uuid.UUID) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.invoices[paymentID]
}

func (g *fakeGateway) settle(id string, status domain.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = status
}

func webhook(id string, status domain.Status) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"status":%q}`, id, status))
}

func invoiceWebhook(id string, invoice uuid.UUID, status domain.Status) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"invoice_id":%q,"status":%q}`, id, invoice, status))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	conn       database.Connection
	gateway    *fakeGateway
	clock      *clock
	metrics    *observability.InMemoryMetrics
	store      *enrollmentApplication.SubscriptionStore
	payments   *persistence.PaymentRepository
	booking    *application.BookingService
	reconciler *application.Reconciler
	refunds    *application.RefundProcessor
	poller     *application.Poller
	plan       *catalog.Plan
	owner      enrollment.Owner
}

// newFixture wires the payments stack over SQLite. A nil gateway gives the
// direct activation policy.
func newFixture(t *testing.T, gateway *fakeGateway) *fixture {
	t.Helper()
	return newFixtureWithVouchers(t, gateway, nil)
}

func newFixtureWithVouchers(t *testing.T, gateway *fakeGateway, vouchers enrollment.VoucherGenerator) *fixture {
	t.Helper()
	ctx := context.Background()
	conn := dbtest.Open(t)
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	metrics := observability.NewInMemoryMetrics()
	uow := database.NewUnitOfWork(conn)
	outboxRepo := outbox.NewSQLRepository(conn)

	subs := enrollmentPersistence.NewSubscriptionRepository(conn)
	visits := enrollmentPersistence.NewVisitRepository(conn)
	engine := enrollmentApplication.NewRedemptionEngine(subs, visits, outboxRepo, uow, nil, metrics).WithClock(clk.Now)
	store := enrollmentApplication.NewSubscriptionStore(subs, visits, outboxRepo, uow, vouchers, engine,
		enrollmentApplication.StoreConfig{}, nil).WithClock(clk.Now)

	plans := catalogApplication.NewService(catalogPersistence.NewPlanRepository(conn), nil)
	plan, err := plans.AddPlan(ctx, catalogApplication.AddPlanCommand{
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

	var gw domain.Gateway
	if gateway != nil {
		gw = gateway
	}
	payments := persistence.NewPaymentRepository(conn)
	refundRepo := persistence.NewRefundRepository(conn)

	reconciler := application.NewReconciler(payments, store, gw, outboxRepo, uow,
		application.ReconcilerConfig{}, nil, metrics).WithClock(clk.Now)
	booking := application.NewBookingService(store, payments, plans, gw, outboxRepo, uow,
		application.BookingConfig{}, nil, metrics).WithClock(clk.Now)
	refunds := application.NewRefundProcessor(payments, refundRepo, gw, outboxRepo, uow, nil, metrics).WithClock(clk.Now)
	poller := application.NewPoller(payments, reconciler, application.DefaultPollerConfig(), nil, metrics).
		WithClock(clk.Now).
		WithCheckouts(booking)

	return &fixture{
		conn:       conn,
		gateway:    gateway,
		clock:      clk,
		metrics:    metrics,
		store:      store,
		payments:   payments,
		booking:    booking,
		reconciler: reconciler,
		refunds:    refunds,
		poller:     poller,
		plan:       plan,
		owner:      enrollment.Owner{AccountID: "acct-1"},
	}
}

func (f *fixture) book(t *testing.T, tariff string) application.BookingResult {
	t.Helper()
	res, err := f.booking.Book(context.Background(), application.BookCommand{
		Owner:    f.owner,
		PlanID:   f.plan.ID(),
		Tariff:   tariff,
		Customer: domain.Customer{AccountID: f.owner.AccountID, Email: "parent@example.com"},
	})
	require.NoError(t, err)
	return res
}

// paid books tariff and settles it through the webhook.
func (f *fixture) paid(t *testing.T, tariff string) (*domain.Payment, application.Outcome) {
	t.Helper()
	res := f.book(t, tariff)
	id := res.Payment.ProviderPaymentID()
	f.gateway.settle(id, domain.StatusSuccess)
	outcome, err := f.reconciler.HandleWebhook(context.Background(), webhook(id, domain.StatusSuccess), "valid")
	require.NoError(t, err)
	p, err := f.payments.FindByID(context.Background(), res.Payment.ID())
	require.NoError(t, err)
	return p, outcome
}

func (f *fixture) outboxCount(t *testing.T, routingKey string) int {
	t.Helper()
	return dbtest.Count(t, f.conn, `SELECT COUNT(*) FROM outbox WHERE routing_key = $1`, routingKey)
}
