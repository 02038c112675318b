package app

import (
	"fmt"

	catalogDomain "github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
	catalogPersistence "github.com/felixgeelhaar/lessonpass/internal/catalog/infrastructure/persistence"
	enrollmentDomain "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	enrollmentPersistence "github.com/felixgeelhaar/lessonpass/internal/enrollment/infrastructure/persistence"
	paymentsDomain "github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	paymentsPersistence "github.com/felixgeelhaar/lessonpass/internal/payments/infrastructure/persistence"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
)

// Repositories groups every repository bound to one connection.
type Repositories struct {
	Subscriptions enrollmentDomain.SubscriptionRepository
	Visits        enrollmentDomain.VisitRepository
	Plans         catalogDomain.PlanRepository
	Payments      paymentsDomain.PaymentRepository
	Refunds       paymentsDomain.RefundRepository
	Outbox        outbox.Repository
}

// RepositoryFactory creates repositories for the connection's driver. The
// SQL repositories are written against $N placeholders and both drivers
// accept them, so only the driver check differs.
type RepositoryFactory struct {
	conn   database.Connection
	driver database.Driver
}

// NewRepositoryFactory creates a new repository factory.
func NewRepositoryFactory(conn database.Connection) *RepositoryFactory {
	return &RepositoryFactory{
		conn:   conn,
		driver: conn.Driver(),
	}
}

// Build creates all repositories.
func (f *RepositoryFactory) Build() (*Repositories, error) {
	if !f.driver.IsValid() {
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
	return &Repositories{
		Subscriptions: enrollmentPersistence.NewSubscriptionRepository(f.conn),
		Visits:        enrollmentPersistence.NewVisitRepository(f.conn),
		Plans:         catalogPersistence.NewPlanRepository(f.conn),
		Payments:      paymentsPersistence.NewPaymentRepository(f.conn),
		Refunds:       paymentsPersistence.NewRefundRepository(f.conn),
		Outbox:        outbox.NewSQLRepository(f.conn),
	}, nil
}

// Driver returns the configured database driver.
func (f *RepositoryFactory) Driver() database.Driver {
	return f.driver
}
