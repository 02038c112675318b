package domain

import "github.com/google/uuid"

// RosterEntry is one student holding active passes at a center.
type RosterEntry struct {
	AccountID        string `json:"account_id"`
	DependentID      string `json:"dependent_id,omitempty"`
	Subscriptions    int    `json:"subscriptions"`
	LessonsRemaining int    `json:"lessons_remaining"`
	Unlimited        bool   `json:"unlimited"`
}

// BuildRoster groups active subscriptions by owner, keeping the order in
// which owners first appear. Lessons left on unlimited passes are not
// counted.
func BuildRoster(subs []*Subscription) []RosterEntry {
	index := make(map[Owner]int)
	var roster []RosterEntry
	for _, sub := range subs {
		if sub.Status() != StatusActive {
			continue
		}
		i, ok := index[sub.Owner()]
		if !ok {
			i = len(roster)
			index[sub.Owner()] = i
			roster = append(roster, RosterEntry{
				AccountID:   sub.Owner().AccountID,
				DependentID: sub.Owner().DependentID,
			})
		}
		entry := &roster[i]
		entry.Subscriptions++
		if sub.Tariff().IsUnlimited() {
			entry.Unlimited = true
			continue
		}
		entry.LessonsRemaining += sub.LessonsRemaining()
	}
	return roster
}

// CenterActivity counts a center's visits and pass sales over a period.
type CenterActivity struct {
	CenterID uuid.UUID `json:"center_id"`
	Visits   int       `json:"visits"`
	Sales    int       `json:"sales"`
}
