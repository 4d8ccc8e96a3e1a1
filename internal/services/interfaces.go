package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

const (
	orderEventCreated      = "order.created"
	orderEventItemsChanged = "order.items.changed"
	orderEventConverted    = "order.converted"
	orderEventCustomerSet  = "order.customer.set"
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type       string
	OrderID    string
	Kind       domain.OrderKind
	Ref        int64
	FullRef    string
	Total      string
	OccurredAt time.Time
	Metadata   map[string]any
}

// InvoiceArchiver stores an immutable snapshot of an invoice once it is confirmed.
type InvoiceArchiver interface {
	ArchiveInvoice(ctx context.Context, order domain.Order) (string, error)
}

// ProductFlag reads a named boolean-ish attribute from a product. Which attribute is read is
// decided by configuration.
type ProductFlag func(product domain.Product) bool

// OrderSettings carries the tunables that shape order assembly.
type OrderSettings struct {
	CustomMap           []string
	ForceCheckStock     bool
	ProductStockedParam string
	ProductStockParam   string
	DefaultValidityDays int
	EstimatePrefix      string
	InvoicePrefix       string
	RefLength           int
	RefMaxAttempts      int
}

// DefaultOrderSettings returns the settings used when nothing is configured.
func DefaultOrderSettings() OrderSettings {
	return OrderSettings{
		CustomMap:           []string{"Title", "Value"},
		ProductStockedParam: "Stocked",
		ProductStockParam:   "StockLevel",
		DefaultValidityDays: 30,
		EstimatePrefix:      "EST",
		InvoicePrefix:       "INV",
		RefLength:           4,
		RefMaxAttempts:      5,
	}
}

func (s OrderSettings) withDefaults() OrderSettings {
	def := DefaultOrderSettings()
	if len(s.CustomMap) == 0 {
		s.CustomMap = def.CustomMap
	}
	if s.ProductStockedParam == "" {
		s.ProductStockedParam = def.ProductStockedParam
	}
	if s.ProductStockParam == "" {
		s.ProductStockParam = def.ProductStockParam
	}
	if s.DefaultValidityDays <= 0 {
		s.DefaultValidityDays = def.DefaultValidityDays
	}
	if s.EstimatePrefix == "" {
		s.EstimatePrefix = def.EstimatePrefix
	}
	if s.InvoicePrefix == "" {
		s.InvoicePrefix = def.InvoicePrefix
	}
	if s.RefLength < 0 {
		s.RefLength = 0
	}
	if s.RefMaxAttempts <= 0 {
		s.RefMaxAttempts = def.RefMaxAttempts
	}
	return s
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
