package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
)

// DateLayout is the calendar date format accepted by date flags.
const DateLayout = "2006-01-02"

// PrintJSON writes v to the command's output as indented JSON.
func PrintJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ParseID parses a UUID argument or flag, naming it in the error.
func ParseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return id, nil
}

// ParseDate parses a YYYY-MM-DD date in loc. An empty value yields fallback.
func ParseDate(value string, loc *time.Location, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}

// DateRange resolves --from/--to date flags into a UTC [from, to) range. The
// default window is the 30 days ending with today.
func DateRange(fromFlag, toFlag string, now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to, err := ParseDate(toFlag, time.UTC, today.AddDate(0, 0, 1))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, err := ParseDate(fromFlag, time.UTC, to.AddDate(0, 0, -30))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be before --to")
	}
	return from, to, nil
}

// FormatLessons renders a lesson count, spelling out unlimited passes.
func FormatLessons(n int) string {
	if n == enrollment.UnlimitedLessons {
		return "unlimited"
	}
	return strconv.Itoa(n)
}
