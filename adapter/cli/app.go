package cli

import (
	"errors"

	"github.com/felixgeelhaar/lessonpass/adapter/api"
	internalApp "github.com/felixgeelhaar/lessonpass/internal/app"
	catalogApp "github.com/felixgeelhaar/lessonpass/internal/catalog/application"
	enrollmentApp "github.com/felixgeelhaar/lessonpass/internal/enrollment/application"
	paymentsApp "github.com/felixgeelhaar/lessonpass/internal/payments/application"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// ErrNotInitialized is returned by commands run without a wired application.
var ErrNotInitialized = errors.New("application not initialized - database connection required")

// App holds the CLI application dependencies.
type App struct {
	Catalog       *catalogApp.Service
	Subscriptions *enrollmentApp.SubscriptionStore
	Bookings      *paymentsApp.BookingService
	Reconciler    *paymentsApp.Reconciler
	Refunds       *paymentsApp.RefundProcessor

	// Poller is nil when no payment provider is configured.
	Poller *paymentsApp.Poller
	Outbox *outbox.Processor
	Health *observability.HealthRegistry

	// Server is the HTTP API mounted by "serve".
	Server *api.Server

	// AppliedMigrations lists the schema versions applied when the
	// application started.
	AppliedMigrations []string
}

// NewApp exposes the container's services to the commands. The outbox
// processor is only handed over when OUTBOX_PROCESSOR_ENABLED is set.
func NewApp(c *internalApp.Container) *App {
	a := &App{
		Catalog:           c.Catalog,
		Subscriptions:     c.Subscriptions,
		Bookings:          c.Bookings,
		Reconciler:        c.Reconciler,
		Refunds:           c.Refunds,
		Poller:            c.Poller,
		Health:            c.Health,
		AppliedMigrations: c.AppliedMigrations,
	}
	if c.Config != nil && c.Config.OutboxProcessorEnabled {
		a.Outbox = c.OutboxProcessor
	}
	return a
}

// SetServer sets the HTTP API server.
func (a *App) SetServer(server *api.Server) {
	a.Server = server
}

var app *App

// SetApp sets the global CLI application.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application.
func GetApp() *App {
	return app
}
