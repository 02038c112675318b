package domain

import "github.com/shopspring/decimal"

// Revenue sums settled payments in one currency. Refunded payments stay in
// Gross; their returned amounts are in Refunded.
type Revenue struct {
	Currency string          `json:"currency"`
	Payments int             `json:"payments"`
	Gross    decimal.Decimal `json:"gross"`
	Refunded decimal.Decimal `json:"refunded"`
}

// Net is what the center kept.
func (r Revenue) Net() decimal.Decimal {
	return r.Gross.Sub(r.Refunded)
}
