package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
)

func newTestBuilder(t *testing.T, registry *LineItemPluginRegistry, stocked ProductFlag) *LineItemBuilder {
	t.Helper()
	builder, err := NewLineItemBuilder(LineItemBuilderDeps{
		Tax:         NewTaxResolver(nil, nil),
		Plugins:     registry,
		Stocked:     stocked,
		IDGenerator: sequentialIDs("id-"),
	})
	if err != nil {
		t.Fatalf("NewLineItemBuilder: %v", err)
	}
	return builder
}

func TestLineItemBuilderSnapshotsProduct(t *testing.T) {
	rate := domain.TaxRate{ID: 4, Title: "VAT", Rate: decimal.NewFromInt(20)}
	product := &domain.Product{
		ID:             "sock",
		Class:          "product",
		Version:        3,
		Title:          "Socks",
		BasePrice:      price("5.99"),
		StockID:        "SKU-SOCK",
		Stocked:        true,
		Weight:         decimal.RequireFromString("0.1"),
		DefaultTaxRate: &rate,
	}

	item, err := newTestBuilder(t, nil, nil).Build(context.Background(), LineItemRequest{
		Product:     product,
		Quantity:    3,
		Deliverable: true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if item.Key != "SKU-SOCK" || item.Title != "Socks" || item.ProductVersion != 3 {
		t.Fatalf("unexpected snapshot %#v", item)
	}
	if !item.Stocked || !item.Deliverable || item.Locked {
		t.Fatalf("unexpected flags %#v", item)
	}
	if item.TaxRateID != 4 || item.TaxRateTitle != "VAT" || !item.TaxRate.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected tax %d %q %s", item.TaxRateID, item.TaxRateTitle, item.TaxRate)
	}
	if got := item.Total().String(); got != "21.564" {
		t.Fatalf("expected total 21.564, got %s", got)
	}
}

func TestLineItemBuilderValidation(t *testing.T) {
	builder := newTestBuilder(t, nil, nil)

	_, err := builder.Build(context.Background(), LineItemRequest{Quantity: 1})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing product, got %v", err)
	}

	_, err = builder.Build(context.Background(), LineItemRequest{Product: &domain.Product{ID: "free"}, Quantity: 1})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for missing price, got %v", err)
	}
	if vErr.Code() != "validation_failed" {
		t.Fatalf("unexpected code %s", vErr.Code())
	}

	for _, qty := range []int{0, -2} {
		_, err = builder.Build(context.Background(), LineItemRequest{Product: &domain.Product{ID: "tee", BasePrice: price("12")}, Quantity: qty})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for quantity %d, got %v", qty, err)
		}
	}
}

func TestLineItemBuilderStockedAccessorReadsAttributes(t *testing.T) {
	builder := newTestBuilder(t, nil, ProductFlagAccessor("TrackInventory"))
	product := &domain.Product{
		ID:         "mug",
		BasePrice:  price("8"),
		Stocked:    false,
		Attributes: map[string]any{"TrackInventory": "1"},
	}

	item, err := builder.Build(context.Background(), LineItemRequest{Product: product, Quantity: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !item.Stocked {
		t.Fatalf("expected attribute flag to mark the item stocked")
	}

	product.Attributes = nil
	item, err = builder.Build(context.Background(), LineItemRequest{Product: product, Quantity: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if item.Stocked {
		t.Fatalf("expected absent flag to mean not stocked")
	}
}

func TestLineItemBuilderCascadeRunsAtMostTwice(t *testing.T) {
	plugin := &recordingPlugin{
		name: "engraving",
		customFn: func(item *LineItemContext, _ domain.ExtraData) error {
			item.AddCustomisation("Engraving", "HF", map[string]string{"Title": "Engraving", "Font": "serif"}, nil)
			return nil
		},
	}
	registry := NewLineItemPluginRegistry()
	registry.RegisterPriceModifier(plugin)
	registry.RegisterCustomiser(plugin)

	item, err := newTestBuilder(t, registry, nil).Build(context.Background(), LineItemRequest{
		Product:  &domain.Product{ID: "ring", StockID: "RING", BasePrice: price("100")},
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if plugin.priceCalls != 2 || plugin.customCalls != 2 {
		t.Fatalf("expected two passes, got pricer=%d customiser=%d", plugin.priceCalls, plugin.customCalls)
	}
	if len(item.Customisations) != 1 {
		t.Fatalf("expected re-run to replace the customisation, got %d", len(item.Customisations))
	}
	extra := item.Customisations[0].Extra
	if len(extra) != 1 || extra["Title"] != "Engraving" {
		t.Fatalf("expected extra filtered to allow-list, got %#v", extra)
	}
	if item.Key != LineItemKey("RING", item.Customisations) {
		t.Fatalf("expected key regenerated from final customisations, got %q", item.Key)
	}
}

func TestLineItemBuilderSinglePassWithoutExtra(t *testing.T) {
	plugin := &recordingPlugin{
		name: "size",
		customFn: func(item *LineItemContext, _ domain.ExtraData) error {
			item.AddCustomisation("Size", "L", nil, nil)
			return nil
		},
	}
	registry := NewLineItemPluginRegistry()
	registry.RegisterCustomiser(plugin)

	if _, err := newTestBuilder(t, registry, nil).Build(context.Background(), LineItemRequest{
		Product:  &domain.Product{ID: "tee", BasePrice: price("12")},
		Quantity: 1,
	}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plugin.customCalls != 1 {
		t.Fatalf("expected a single pass, got %d", plugin.customCalls)
	}
}

func TestLineItemBuilderPluginErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	registry := NewLineItemPluginRegistry()
	registry.RegisterPriceModifier(&recordingPlugin{
		name:    "broken",
		priceFn: func(*LineItemContext, domain.ExtraData) error { return boom },
	})

	_, err := newTestBuilder(t, registry, nil).Build(context.Background(), LineItemRequest{
		Product:  &domain.Product{ID: "tee", BasePrice: price("12")},
		Quantity: 1,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected plugin error, got %v", err)
	}
}

func TestLineItemBuilderUpdateKeepsIdentity(t *testing.T) {
	builder := newTestBuilder(t, nil, nil)
	existing := domain.LineItem{
		ID:             "item-1",
		PriceModifiers: []domain.PriceModifier{{ID: "m1", Name: "Gift wrap", Amount: decimal.NewFromInt(2)}},
	}

	updated, err := builder.Update(context.Background(), existing, LineItemRequest{
		Product:  &domain.Product{ID: "tee", StockID: "TEE", BasePrice: price("15")},
		Quantity: 4,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != "item-1" || updated.Quantity != 4 {
		t.Fatalf("unexpected update %#v", updated)
	}
	if got := updated.UnitPrice().String(); got != "17" {
		t.Fatalf("expected retained modifier in unit price, got %s", got)
	}
	if len(existing.PriceModifiers) != 1 || existing.Quantity != 0 {
		t.Fatalf("expected existing item untouched")
	}
}
