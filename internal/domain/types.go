package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes pre-confirmation estimates from confirmed invoices.
type OrderKind string

const (
	// OrderKindEstimate marks a quote that has not been confirmed.
	OrderKindEstimate OrderKind = "estimate"
	// OrderKindInvoice marks a confirmed order.
	OrderKindInvoice OrderKind = "invoice"
)

// Valid reports whether the kind is one of the known order kinds.
func (k OrderKind) Valid() bool {
	return k == OrderKindEstimate || k == OrderKindInvoice
}

// Address captures a postal address attached to an order or contact.
type Address struct {
	Company    string
	FirstName  string
	Surname    string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// IsZero reports whether no address lines have been populated.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Line1) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.PostalCode) == "" &&
		strings.TrimSpace(a.Country) == ""
}

// PersonalDetails stores the customer's contact information on an order.
type PersonalDetails struct {
	Company   string
	FirstName string
	Surname   string
	Email     string
	Phone     string
}

// IsZero reports whether no personal details have been populated.
func (p PersonalDetails) IsZero() bool {
	return p == PersonalDetails{}
}

// Contact is a customer record that can be attached to an order.
type Contact struct {
	ID             string
	Personal       PersonalDetails
	DefaultAddress *Address
}

// EntityRef is a weak reference to the entity that produced a modifier or customisation.
type EntityRef struct {
	Class string
	ID    string
}

// Equal reports whether both references point at the same entity.
func (r *EntityRef) Equal(other *EntityRef) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return r.Class == other.Class && r.ID == other.ID
}

// Product is the read-only catalogue entity a line item is built from.
type Product struct {
	ID             string
	Class          string
	Version        int64
	Title          string
	BasePrice      *decimal.Decimal
	StockID        string
	Stocked        bool
	StockLevel     int64
	Deliverable    bool
	Weight         decimal.Decimal
	TaxCategoryID  string
	DefaultTaxRate *TaxRate
	OptionGroups   []OptionGroup
	Attributes     map[string]any
	UpdatedAt      time.Time
}

// OptionGroup is a customisable attribute offered by a product (e.g. size).
type OptionGroup struct {
	ID      string
	Title   string
	Options []Option
}

// Option is a selectable value inside an option group.
type Option struct {
	ID          string
	Title       string
	ModifyPrice decimal.Decimal
}

// FindOptionGroup returns the option group with the given ID.
func (p Product) FindOptionGroup(id string) (OptionGroup, bool) {
	for _, group := range p.OptionGroups {
		if group.ID == id {
			return group, true
		}
	}
	return OptionGroup{}, false
}

// FindOption returns the option with the given ID.
func (g OptionGroup) FindOption(id string) (Option, bool) {
	for _, option := range g.Options {
		if option.ID == id {
			return option, true
		}
	}
	return Option{}, false
}

// PriceModifier is a named, signed per-unit price delta attached to a line item.
type PriceModifier struct {
	ID      string
	Name    string
	Amount  decimal.Decimal
	Related *EntityRef
}

// Customisation is a named descriptive attribute attached to a line item.
type Customisation struct {
	ID      string
	Title   string
	Value   string
	Extra   map[string]string
	Related *EntityRef
}

// LineItem is one priced, quantified entry within an order.
type LineItem struct {
	ID              string
	Key             string
	Title           string
	StockID         string
	UnmodifiedPrice decimal.Decimal
	TaxRateID       int64
	TaxRate         decimal.Decimal
	TaxRateTitle    string
	Quantity        int
	Weight          decimal.Decimal
	Stocked         bool
	Deliverable     bool
	Locked          bool
	ProductClass    string
	ProductID       string
	ProductVersion  int64
	PriceModifiers  []PriceModifier
	Customisations  []Customisation
}

// Order is either an estimate or an invoice; both share the same shape.
type Order struct {
	ID              string
	Kind            OrderKind
	Ref             int64
	Prefix          string
	AccessKey       string
	CustomerID      string
	Personal        PersonalDetails
	Billing         Address
	Delivery        Address
	StartDate       *time.Time
	EndDate         *time.Time
	DisableNegative bool
	Items           []LineItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsInvoice reports whether the order has been confirmed.
func (o Order) IsInvoice() bool {
	return o.Kind == OrderKindInvoice
}

// FindItem returns the index of the item with the given key, or -1.
func (o Order) FindItem(key string) int {
	for i := range o.Items {
		if o.Items[i].Key == key {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without affecting the original.
func (o Order) Clone() Order {
	clone := o
	if o.StartDate != nil {
		start := *o.StartDate
		clone.StartDate = &start
	}
	if o.EndDate != nil {
		end := *o.EndDate
		clone.EndDate = &end
	}
	if o.Items != nil {
		clone.Items = make([]LineItem, len(o.Items))
		for i, item := range o.Items {
			clone.Items[i] = item.Clone()
		}
	}
	return clone
}

// Clone returns a deep copy of the line item including child modifiers and customisations.
func (i LineItem) Clone() LineItem {
	clone := i
	if i.PriceModifiers != nil {
		clone.PriceModifiers = make([]PriceModifier, len(i.PriceModifiers))
		for idx, modifier := range i.PriceModifiers {
			clone.PriceModifiers[idx] = modifier
			clone.PriceModifiers[idx].Related = cloneRef(modifier.Related)
		}
	}
	if i.Customisations != nil {
		clone.Customisations = make([]Customisation, len(i.Customisations))
		for idx, customisation := range i.Customisations {
			copied := customisation
			copied.Related = cloneRef(customisation.Related)
			if customisation.Extra != nil {
				copied.Extra = make(map[string]string, len(customisation.Extra))
				for k, v := range customisation.Extra {
					copied.Extra[k] = v
				}
			}
			clone.Customisations[idx] = copied
		}
	}
	return clone
}

func cloneRef(ref *EntityRef) *EntityRef {
	if ref == nil {
		return nil
	}
	copied := *ref
	return &copied
}
