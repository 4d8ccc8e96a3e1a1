package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPrecision is the number of decimal places every computed amount is rounded to.
const MoneyPrecision int32 = 4

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds an amount to MoneyPrecision places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPrecision)
}

// TaxBreakdown aggregates the tax charged under a single rate across an order.
type TaxBreakdown struct {
	RateID int64
	Title  string
	Rate   decimal.Decimal
	Total  decimal.Decimal
}

// UnitPrice is the unmodified price plus every price modifier, excluding tax.
func (i LineItem) UnitPrice() decimal.Decimal {
	price := i.UnmodifiedPrice
	for _, modifier := range i.PriceModifiers {
		price = price.Add(modifier.Amount)
	}
	return RoundMoney(price)
}

// UnitTax is the tax charged on a single unit.
func (i LineItem) UnitTax() decimal.Decimal {
	return RoundMoney(i.UnitPrice().Mul(i.TaxRate).Div(hundred))
}

// SubTotal is the untaxed price for the full quantity.
func (i LineItem) SubTotal() decimal.Decimal {
	return RoundMoney(i.UnitPrice().Mul(decimal.NewFromInt(int64(i.Quantity))))
}

// TaxTotal is the tax charged for the full quantity.
func (i LineItem) TaxTotal() decimal.Decimal {
	return RoundMoney(i.UnitTax().Mul(decimal.NewFromInt(int64(i.Quantity))))
}

// Total is the taxed price for the full quantity.
func (i LineItem) Total() decimal.Decimal {
	return RoundMoney(i.SubTotal().Add(i.TaxTotal()))
}

// TotalWeight is the shipping weight for the full quantity.
func (i LineItem) TotalWeight() decimal.Decimal {
	return RoundMoney(i.Weight.Mul(decimal.NewFromInt(int64(i.Quantity))))
}

// TotalItems counts units across all items; an item with no quantity counts once.
func (o Order) TotalItems() int {
	total := 0
	for _, item := range o.Items {
		if item.Quantity > 0 {
			total += item.Quantity
			continue
		}
		total++
	}
	return total
}

// TotalWeight sums item weights.
func (o Order) TotalWeight() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalWeight())
	}
	return RoundMoney(total)
}

// SubTotal sums the untaxed item totals.
func (o Order) SubTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.SubTotal())
	}
	return RoundMoney(total)
}

// TaxTotal sums item tax, clamped to zero when negative values are disabled.
func (o Order) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TaxTotal())
	}
	return o.clamp(RoundMoney(total))
}

// Total is SubTotal plus TaxTotal, clamped to zero when negative values are disabled.
func (o Order) Total() decimal.Decimal {
	return o.clamp(RoundMoney(o.SubTotal().Add(o.TaxTotal())))
}

func (o Order) clamp(v decimal.Decimal) decimal.Decimal {
	if o.DisableNegative && v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// TaxList groups tax totals by rate in the order rates first appear.
func (o Order) TaxList() []TaxBreakdown {
	var out []TaxBreakdown
	index := make(map[int64]int)
	for _, item := range o.Items {
		if pos, ok := index[item.TaxRateID]; ok {
			out[pos].Total = RoundMoney(out[pos].Total.Add(item.TaxTotal()))
			continue
		}
		index[item.TaxRateID] = len(out)
		out = append(out, TaxBreakdown{
			RateID: item.TaxRateID,
			Title:  item.TaxRateTitle,
			Rate:   item.TaxRate,
			Total:  item.TaxTotal(),
		})
	}
	return out
}

// ItemSummary lists each item as "<qty> x <title>", one per line.
func (o Order) ItemSummary() string {
	lines := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, fmt.Sprintf("%d x %s", item.Quantity, item.Title))
	}
	return strings.Join(lines, "\n")
}

// IsDeliverable reports whether any item needs to be shipped.
func (o Order) IsDeliverable() bool {
	for _, item := range o.Items {
		if item.Deliverable {
			return true
		}
	}
	return false
}

// IsLocked reports whether every item is locked.
func (o Order) IsLocked() bool {
	for _, item := range o.Items {
		if !item.Locked {
			return false
		}
	}
	return true
}

// FullRef renders the reference zero-padded to length and joined to the prefix.
func (o Order) FullRef(length int) string {
	ref := strconv.FormatInt(o.Ref, 10)
	if pad := length - len(ref); pad > 0 {
		ref = strings.Repeat("0", pad) + ref
	}
	if o.Prefix == "" {
		return ref
	}
	return o.Prefix + "-" + ref
}
