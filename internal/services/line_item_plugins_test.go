package services

import (
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
)

func newTestContext() (*LineItemContext, *domain.LineItem) {
	item := &domain.LineItem{}
	return &LineItemContext{
		item:      item,
		customMap: DefaultOrderSettings().CustomMap,
		newID:     sequentialIDs("x-"),
	}, item
}

func TestAddPriceModifierUpsertsByRelated(t *testing.T) {
	ctx, item := newTestContext()
	size := &domain.EntityRef{Class: "option_group", ID: "size"}

	ctx.AddPriceModifier("Size", decimal.NewFromInt(1), size)
	ctx.AddPriceModifier("Size", decimal.NewFromInt(3), &domain.EntityRef{Class: "option_group", ID: "size"})

	if len(item.PriceModifiers) != 1 {
		t.Fatalf("expected a single modifier, got %d", len(item.PriceModifiers))
	}
	if !item.PriceModifiers[0].Amount.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected latest amount, got %s", item.PriceModifiers[0].Amount)
	}

	ctx.AddPriceModifier("Gift wrap", decimal.NewFromInt(2), nil)
	ctx.AddPriceModifier("Gift wrap", decimal.NewFromInt(2), nil)
	if len(item.PriceModifiers) != 3 {
		t.Fatalf("expected unrelated modifiers to stack, got %d", len(item.PriceModifiers))
	}
}

func TestAddCustomisationReplacesInPlace(t *testing.T) {
	ctx, item := newTestContext()
	colour := &domain.EntityRef{Class: "option_group", ID: "colour"}

	first := ctx.AddCustomisation("Colour", "Red", nil, colour)
	ctx.AddCustomisation("Note", "Hello", nil, nil)
	second := ctx.AddCustomisation("Colour", "Blue", nil, colour)
	ctx.AddCustomisation("Note", "Bye", nil, nil)

	if len(item.Customisations) != 2 {
		t.Fatalf("expected two customisations, got %d", len(item.Customisations))
	}
	if first.ID != second.ID {
		t.Fatalf("expected replacement to keep the id")
	}
	if item.Customisations[0].Value != "Blue" || item.Customisations[1].Value != "Bye" {
		t.Fatalf("unexpected customisations %#v", item.Customisations)
	}
	if ctx.cascade {
		t.Fatalf("expected no cascade without extra data")
	}
}

func TestLineItemContextAccessorsReturnCopies(t *testing.T) {
	ctx, item := newTestContext()
	ctx.AddCustomisation("Colour", "Red", nil, nil)

	snapshot := ctx.Item()
	snapshot.Customisations[0].Value = "changed"
	if item.Customisations[0].Value != "Red" {
		t.Fatalf("expected Item to return a copy")
	}
	if _, ok := ctx.Order(); ok {
		t.Fatalf("expected no order")
	}
}

func TestLineItemPluginRegistryOrder(t *testing.T) {
	registry := NewLineItemPluginRegistry()
	a := &recordingPlugin{name: "a"}
	b := &recordingPlugin{name: "b"}
	registry.RegisterCustomiser(a)
	registry.RegisterCustomiser(nil)
	registry.RegisterCustomiser(b)

	got := registry.Customisers()
	if len(got) != 2 || got[0].Name() != "a" || got[1].Name() != "b" {
		t.Fatalf("unexpected registration order %v", got)
	}
}
