package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTaxRateID identifies the non-persisted zero rate used when nothing applies.
const DefaultTaxRateID int64 = -1

const wildcardRegion = "*"

// TaxRate is a percentage rate applicable to the zones it lists.
type TaxRate struct {
	ID    int64
	Title string
	Rate  decimal.Decimal
	Zones []TaxZone
}

// TaxZone scopes a rate to a country and optional list of regions ("*" matches any).
type TaxZone struct {
	Country string
	Regions []string
}

// TaxCategory groups the regional rates a product may be taxed under.
type TaxCategory struct {
	ID    string
	Title string
	Rates []TaxRate
}

// DefaultTaxRate returns the zero-rate sentinel.
func DefaultTaxRate() TaxRate {
	return TaxRate{
		ID:    DefaultTaxRateID,
		Title: "Default Tax",
		Rate:  decimal.Zero,
	}
}

// IsDefault reports whether the rate is the zero-rate sentinel.
func (r TaxRate) IsDefault() bool {
	return r.ID == DefaultTaxRateID
}

// BestRate finds the rate matching the delivery location. A zone naming the region
// explicitly wins over a wildcard zone; ties keep category order.
func (c TaxCategory) BestRate(country, region string) (TaxRate, bool) {
	country = strings.ToUpper(strings.TrimSpace(country))
	region = strings.ToUpper(strings.TrimSpace(region))

	var (
		wildcard TaxRate
		found    bool
	)
	for _, rate := range c.Rates {
		for _, zone := range rate.Zones {
			if !strings.EqualFold(strings.TrimSpace(zone.Country), country) {
				continue
			}
			if len(zone.Regions) == 0 {
				if !found {
					wildcard, found = rate, true
				}
				continue
			}
			for _, candidate := range zone.Regions {
				candidate = strings.ToUpper(strings.TrimSpace(candidate))
				switch candidate {
				case region:
					return rate, true
				case wildcardRegion:
					if !found {
						wildcard, found = rate, true
					}
				}
			}
		}
	}
	return wildcard, found
}
