package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalApp "github.com/felixgeelhaar/lessonpass/internal/app"
	catalogApp "github.com/felixgeelhaar/lessonpass/internal/catalog/application"
	catalog "github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
	catalogPersistence "github.com/felixgeelhaar/lessonpass/internal/catalog/infrastructure/persistence"
	enrollmentApp "github.com/felixgeelhaar/lessonpass/internal/enrollment/application"
	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	enrollmentPersistence "github.com/felixgeelhaar/lessonpass/internal/enrollment/infrastructure/persistence"
	paymentsApp "github.com/felixgeelhaar/lessonpass/internal/payments/application"
	payments "github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	paymentsPersistence "github.com/felixgeelhaar/lessonpass/internal/payments/infrastructure/persistence"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database/dbtest"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// run executes the root command with args and returns its output. Flag
// variables are reset afterwards since cobra keeps them between runs.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	SetLogger(quietLogger())
	err := rootCmd.ExecuteContext(context.Background())

	jsonOutput = false
	reconcilePending = false
	refundReason = ""
	visitsFrom, visitsTo = "", ""
	paymentsLimit = paymentsApp.DefaultHistoryLimit
	return out.String(), err
}

// setupDirectApp wires the real container on SQLite; without a payment
// provider bookings activate immediately.
func setupDirectApp(t *testing.T) *internalApp.Container {
	t.Helper()
	cfg := &config.Config{
		AppEnv:          "test",
		SQLitePath:      filepath.Join(t.TempDir(), "cli.db"),
		EventBroker:     "none",
		PaymentCurrency: "KZT",
		VoucherAttempts: 5,
	}
	c, err := internalApp.NewContainer(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	SetApp(NewApp(c))
	t.Cleanup(func() {
		SetApp(nil)
		c.Close()
	})
	return c
}

func addPlan(t *testing.T, svc *catalogApp.Service, centerID uuid.UUID) *catalog.Plan {
	t.Helper()
	plan, err := svc.AddPlan(context.Background(), catalogApp.AddPlanCommand{
		CenterID: centerID,
		Name:     "Robotics",
		Prices: catalog.Prices{
			Four:      decimal.NewFromInt(16000),
			Eight:     decimal.NewFromInt(30000),
			Unlimited: decimal.NewFromInt(50000),
		},
		Currency: "KZT",
	})
	require.NoError(t, err)
	return plan
}

func TestRedeemAndVisits(t *testing.T) {
	c := setupDirectApp(t)
	ctx := context.Background()
	centerID := uuid.New()
	plan := addPlan(t, c.Catalog, centerID)

	booked, err := c.Bookings.Book(ctx, paymentsApp.BookCommand{
		Owner:  enrollment.Owner{AccountID: "acc-1"},
		PlanID: plan.ID(),
		Tariff: "4",
	})
	require.NoError(t, err)
	require.True(t, booked.Activated)
	code := booked.Subscription.VoucherCode()

	out, err := run(t, "redeem", code, "--center", centerID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "remaining: 3")
	assert.Contains(t, out, "status:    active")

	out, err = run(t, "--json", "redeem", code, "--center", centerID.String())
	require.NoError(t, err)
	var redemption enrollmentApp.Redemption
	require.NoError(t, json.Unmarshal([]byte(out), &redemption))
	assert.Equal(t, 2, redemption.LessonsRemaining)
	assert.Equal(t, booked.Subscription.ID(), redemption.SubscriptionID)

	_, err = run(t, "redeem", code, "--center", uuid.New().String())
	assert.ErrorIs(t, err, enrollment.ErrLocationMismatch)

	out, err = run(t, "visits", "--center", centerID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "2 visit(s)")

	out, err = run(t, "visits", "--center", centerID.String(), "--from", "2020-01-01", "--to", "2020-02-01")
	require.NoError(t, err)
	assert.Contains(t, out, "0 visit(s) from 2020-01-01 to 2020-02-01")
}

func TestRedeem_InvalidCenter(t *testing.T) {
	setupDirectApp(t)

	_, err := run(t, "redeem", "ABCD2345", "--center", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid center")
}

func TestCommandsRequireApp(t *testing.T) {
	SetApp(nil)

	_, err := run(t, "redeem", "ABCD2345", "--center", uuid.New().String())
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = run(t, "migrate")
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = run(t, "serve")
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = run(t, "payments", "--account", "acc-1")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMigrate(t *testing.T) {
	c := setupDirectApp(t)
	require.NotEmpty(t, c.AppliedMigrations)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied "+c.AppliedMigrations[0])

	GetApp().AppliedMigrations = nil
	out, err = run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date.")

	out, err = run(t, "--json", "migrate")
	require.NoError(t, err)
	assert.JSONEq(t, `{"applied":[]}`, out)
}

func TestHealth(t *testing.T) {
	setupDirectApp(t)

	out, err := run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "database")
}

func TestReconcileAndRefund_WithoutProvider(t *testing.T) {
	setupDirectApp(t)

	_, err := run(t, "reconcile", uuid.New().String())
	assert.ErrorIs(t, err, payments.ErrPaymentNotFound)

	_, err = run(t, "reconcile", "--pending")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no payment provider configured")

	_, err = run(t, "refund", uuid.New().String(), "--amount", "ten")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")
}

// settlingGateway reports every payment as paid and accepts every refund.
type settlingGateway struct {
	mu   sync.Mutex
	next int
}

func (g *settlingGateway) CreatePayment(_ context.Context, _ payments.CreatePaymentRequest) (payments.CreatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	id := fmt.Sprintf("AP-%d", g.next)
	return payments.CreatePaymentResult{ProviderPaymentID: id, RedirectURL: "https://checkout.example/" + id}, nil
}

func (g *settlingGateway) QueryStatus(_ context.Context, id string) (payments.StatusReport, error) {
	return payments.StatusReport{ProviderPaymentID: id, Status: payments.StatusSuccess}, nil
}

func (g *settlingGateway) IssueRefund(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	return payments.RefundResult{ProviderRefundID: "RF-" + req.RefundID.String()[:8]}, nil
}

func (g *settlingGateway) VerifyWebhook([]byte, string) (payments.StatusReport, error) {
	return payments.StatusReport{}, payments.ErrInvalidSignature
}

// setupGatewayApp wires the services against settlingGateway.
func setupGatewayApp(t *testing.T) (*App, *catalog.Plan) {
	t.Helper()
	conn := dbtest.Open(t)
	uow := database.NewUnitOfWork(conn)
	outboxRepo := outbox.NewSQLRepository(conn)
	gw := &settlingGateway{}

	subs := enrollmentPersistence.NewSubscriptionRepository(conn)
	visits := enrollmentPersistence.NewVisitRepository(conn)
	engine := enrollmentApp.NewRedemptionEngine(subs, visits, outboxRepo, uow, quietLogger(), nil)
	store := enrollmentApp.NewSubscriptionStore(subs, visits, outboxRepo, uow, nil, engine, enrollmentApp.StoreConfig{}, quietLogger())
	plans := catalogApp.NewService(catalogPersistence.NewPlanRepository(conn), quietLogger())

	paymentRepo := paymentsPersistence.NewPaymentRepository(conn)
	refundRepo := paymentsPersistence.NewRefundRepository(conn)
	reconciler := paymentsApp.NewReconciler(paymentRepo, store, gw, outboxRepo, uow, paymentsApp.ReconcilerConfig{}, quietLogger(), nil)
	poller := paymentsApp.NewPoller(paymentRepo, reconciler, paymentsApp.DefaultPollerConfig(), quietLogger(), nil).
		WithClock(func() time.Time { return time.Now().Add(time.Hour) })

	a := &App{
		Catalog:       plans,
		Subscriptions: store,
		Bookings:      paymentsApp.NewBookingService(store, paymentRepo, plans, gw, outboxRepo, uow, paymentsApp.BookingConfig{}, quietLogger(), nil),
		Reconciler:    reconciler,
		Refunds:       paymentsApp.NewRefundProcessor(paymentRepo, refundRepo, gw, outboxRepo, uow, quietLogger(), nil),
		Poller:        poller,
	}
	SetApp(a)
	t.Cleanup(func() { SetApp(nil) })
	return a, addPlan(t, plans, uuid.New())
}

func TestReconcileThenRefund(t *testing.T) {
	a, plan := setupGatewayApp(t)
	ctx := context.Background()

	booked, err := a.Bookings.Book(ctx, paymentsApp.BookCommand{
		Owner:  enrollment.Owner{AccountID: "acc-1"},
		PlanID: plan.ID(),
		Tariff: "8",
	})
	require.NoError(t, err)
	require.False(t, booked.Activated)
	paymentID := booked.Payment.ID().String()

	out, err := run(t, "--json", "reconcile", paymentID)
	require.NoError(t, err)
	var outcome paymentsApp.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, payments.StatusSuccess, outcome.Status)
	assert.True(t, outcome.Applied)
	assert.NotEmpty(t, outcome.VoucherCode)

	out, err = run(t, "reconcile", paymentID)
	require.NoError(t, err)
	assert.Contains(t, out, "is success")
	assert.NotContains(t, out, "status change applied", "a second reconcile changes nothing")

	out, err = run(t, "refund", paymentID, "--amount", "10000", "--reason", "schedule clash")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "amount:   10000.00")

	_, err = run(t, "refund", paymentID, "--amount", "25000")
	assert.ErrorIs(t, err, payments.ErrRefundExceedsBalance)
}

func TestReconcilePending(t *testing.T) {
	a, plan := setupGatewayApp(t)
	ctx := context.Background()

	for _, tariff := range []string{"4", "unlimited"} {
		_, err := a.Bookings.Book(ctx, paymentsApp.BookCommand{
			Owner:  enrollment.Owner{AccountID: "acc-2"},
			PlanID: plan.ID(),
			Tariff: tariff,
		})
		require.NoError(t, err)
	}

	out, err := run(t, "reconcile", "--pending")
	require.NoError(t, err)
	assert.Contains(t, out, "2 payment(s) changed")

	active, err := a.Subscriptions.ListActiveForOwner(ctx, enrollment.Owner{AccountID: "acc-2"})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestPaymentsHistory(t *testing.T) {
	a, plan := setupGatewayApp(t)
	ctx := context.Background()

	var ids []string
	for _, tariff := range []string{"4", "8"} {
		booked, err := a.Bookings.Book(ctx, paymentsApp.BookCommand{
			Owner:  enrollment.Owner{AccountID: "acc-3", DependentID: "kid"},
			PlanID: plan.ID(),
			Tariff: tariff,
		})
		require.NoError(t, err)
		ids = append(ids, booked.Payment.ID().String())
	}
	_, err := run(t, "reconcile", ids[0])
	require.NoError(t, err)

	out, err := run(t, "payments", "--account", "acc-3")
	require.NoError(t, err)
	assert.Contains(t, out, "DATE")
	assert.Contains(t, out, ids[0])
	assert.Contains(t, out, ids[1])
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "pending")

	out, err = run(t, "--json", "payments", "--account", "acc-3", "--limit", "1")
	require.NoError(t, err)
	var views []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "KZT", views[0]["currency"])

	out, err = run(t, "payments", "--account", "acc-none")
	require.NoError(t, err)
	assert.Contains(t, out, "No payments.")
}

func TestDateRange(t *testing.T) {
	now := time.Date(2026, 10, 17, 15, 4, 0, 0, time.UTC)

	tests := []struct {
		name     string
		from, to string
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{name: "defaults to last 30 days", wantFrom: "2026-09-18", wantTo: "2026-10-18"},
		{name: "explicit range", from: "2026-09-01", to: "2026-10-01", wantFrom: "2026-09-01", wantTo: "2026-10-01"},
		{name: "from only", from: "2026-10-01", wantFrom: "2026-10-01", wantTo: "2026-10-18"},
		{name: "to only", to: "2026-10-01", wantFrom: "2026-09-01", wantTo: "2026-10-01"},
		{name: "empty range", from: "2026-10-01", to: "2026-10-01", wantErr: true},
		{name: "bad date", from: "01/10/2026", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := DateRange(tt.from, tt.to, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, from.Format(DateLayout))
			assert.Equal(t, tt.wantTo, to.Format(DateLayout))
		})
	}
}

func TestFormatLessons(t *testing.T) {
	assert.Equal(t, "unlimited", FormatLessons(enrollment.UnlimitedLessons))
	assert.Equal(t, "8", FormatLessons(8))
	assert.Equal(t, "0", FormatLessons(0))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lessonpass dev")
}
