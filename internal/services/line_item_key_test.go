package services

import (
	"encoding/base64"
	"testing"

	domain "github.com/hanko-field/orders/internal/domain"
)

func TestLineItemKeyWithoutCustomisations(t *testing.T) {
	if got := LineItemKey("SKU-1", nil); got != "SKU-1" {
		t.Fatalf("expected bare stock id, got %q", got)
	}
	if got := LineItemKey("SKU-1", []domain.Customisation{}); got != "SKU-1" {
		t.Fatalf("expected bare stock id for empty slice, got %q", got)
	}
}

func TestLineItemKeyIsDeterministic(t *testing.T) {
	customisations := []domain.Customisation{
		{ID: "c1", Title: "Size", Value: "Large"},
		{ID: "c2", Title: "Colour", Value: "Red"},
	}
	first := LineItemKey("SKU-1", customisations)
	second := LineItemKey("SKU-1", []domain.Customisation{
		{ID: "other", Title: "Size", Value: "Large"},
		{ID: "ids-ignored", Title: "Colour", Value: "Red"},
	})
	if first != second {
		t.Fatalf("expected identical keys, got %q and %q", first, second)
	}

	want := "SKU-1:" + base64.StdEncoding.EncodeToString([]byte(`{"Size":"Large","Colour":"Red"}`))
	if first != want {
		t.Fatalf("unexpected key\nwant %q\ngot  %q", want, first)
	}

	if LineItemKey("SKU-2", customisations) == first {
		t.Fatalf("expected stock id to change the key")
	}
}

func TestLineItemKeyDuplicateTitleKeepsLastValue(t *testing.T) {
	got := LineItemKey("SKU", []domain.Customisation{
		{Title: "Size", Value: "Small"},
		{Title: "Colour", Value: "Blue"},
		{Title: "Size", Value: "Large"},
	})
	want := "SKU:" + base64.StdEncoding.EncodeToString([]byte(`{"Size":"Large","Colour":"Blue"}`))
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestLineItemKeyNormalisesUnicode(t *testing.T) {
	composed := LineItemKey("SKU", []domain.Customisation{{Title: "Engraving", Value: "Caf\u00e9"}})
	decomposed := LineItemKey("SKU", []domain.Customisation{{Title: "Engraving", Value: "Cafe\u0301"}})
	if composed != decomposed {
		t.Fatalf("expected NFC-equivalent values to share a key")
	}
}

func TestLineItemKeyKeepsMarkupLiteral(t *testing.T) {
	got := LineItemKey("SKU", []domain.Customisation{{Title: "Engraving", Value: `<b>A&B</b> "1/2"`}})
	want := "SKU:" + base64.StdEncoding.EncodeToString([]byte(`{"Engraving":"<b>A&B</b> \"1/2\""}`))
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}
