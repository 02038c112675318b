package subscription

import (
	"fmt"
	"io"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
)

func owner() (enrollment.Owner, error) {
	if accountID == "" {
		return enrollment.Owner{}, fmt.Errorf("--account is required")
	}
	return enrollment.Owner{AccountID: accountID, DependentID: dependentID}, nil
}

func subscriptionView(s *enrollment.Subscription) map[string]any {
	view := map[string]any{
		"id":                s.ID(),
		"account_id":        s.Owner().AccountID,
		"dependent_id":      s.Owner().DependentID,
		"plan_id":           s.PlanID(),
		"center_id":         s.CenterID(),
		"tariff":            s.Tariff(),
		"status":            s.Status(),
		"lessons_total":     cli.FormatLessons(s.LessonsTotal()),
		"lessons_remaining": cli.FormatLessons(s.LessonsRemaining()),
		"purchased_at":      s.PurchasedAt(),
	}
	if code := s.VoucherCode(); code != "" {
		view["voucher_code"] = code
	}
	if s.ExpiresAt() != nil {
		view["expires_at"] = *s.ExpiresAt()
	}
	return view
}

func printSubscription(w io.Writer, s *enrollment.Subscription) {
	fmt.Fprintf(w, "Subscription %s\n", s.ID())
	fmt.Fprintf(w, "  status:    %s\n", s.Status())
	fmt.Fprintf(w, "  tariff:    %s\n", s.Tariff())
	fmt.Fprintf(w, "  remaining: %s of %s\n", cli.FormatLessons(s.LessonsRemaining()), cli.FormatLessons(s.LessonsTotal()))
	if code := s.VoucherCode(); code != "" {
		fmt.Fprintf(w, "  voucher:   %s\n", code)
	}
	if s.ExpiresAt() != nil {
		fmt.Fprintf(w, "  expires:   %s\n", s.ExpiresAt().Format(cli.DateLayout))
	}
}
