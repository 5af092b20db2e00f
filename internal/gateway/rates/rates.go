// Package rates converts amounts between the store currency and the currency
// a payment provider settles in.
//
// The default provider is a static table. That is an acknowledged
// approximation — good enough for display prices and sandbox flows — kept
// behind the Provider interface so a live feed can be dropped in without
// touching the adapters.
package rates

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Provider supplies an exchange rate from one ISO currency to another.
type Provider interface {
	Rate(from, to string) (decimal.Decimal, error)
}

// Static is the table-backed Provider. Rates are expressed against EGP,
// the store currency.
type Static struct {
	perEGP map[string]decimal.Decimal
}

// NewStatic builds the default table. All rates are units of the target
// currency per one EGP.
func NewStatic() *Static {
	return &Static{perEGP: map[string]decimal.Decimal{
		"EGP": decimal.NewFromInt(1),
		"USD": decimal.RequireFromString("0.0205"),
		"EUR": decimal.RequireFromString("0.0190"),
		"SAR": decimal.RequireFromString("0.0770"),
		"AED": decimal.RequireFromString("0.0754"),
	}}
}

func (s *Static) Rate(from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	fromRate, ok := s.perEGP[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates: unknown currency %q", from)
	}
	toRate, ok := s.perEGP[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates: unknown currency %q", to)
	}
	// from → EGP → to.
	return toRate.Div(fromRate), nil
}

// Convert applies p's rate to amount and rounds to two decimal places,
// the precision every supported currency settles in.
func Convert(p Provider, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := p.Rate(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(2), nil
}
