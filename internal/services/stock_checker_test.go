package services

import (
	"context"
	"testing"

	domain "github.com/hanko-field/orders/internal/domain"
)

func TestStockCheckerCheck(t *testing.T) {
	products := &stubProductRepo{products: map[string]domain.Product{
		"tracked":   {ID: "tracked", StockID: "T", StockLevel: 10},
		"untracked": {ID: "untracked", StockID: "U", StockLevel: 0},
	}}

	cases := []struct {
		name      string
		force     bool
		productID string
		qty       int
		committed int64
		want      bool
	}{
		{name: "exactly available", productID: "tracked", qty: 10, want: true},
		{name: "one too many", productID: "tracked", qty: 11, want: false},
		{name: "committed elsewhere", productID: "tracked", qty: 5, committed: 6, want: false},
		{name: "untracked without force", productID: "untracked", qty: 50, want: true},
		{name: "untracked with force", force: true, productID: "untracked", qty: 1, want: false},
		{name: "missing product", productID: "gone", qty: 1, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &stubStockLedger{committed: map[string]int64{"T": tc.committed}}
			checker, err := NewStockChecker(StockCheckerDeps{
				Products:   products,
				Ledger:     ledger,
				ForceCheck: tc.force,
			})
			if err != nil {
				t.Fatalf("NewStockChecker: %v", err)
			}

			ok, err := checker.Check(context.Background(), domain.LineItem{ProductID: tc.productID}, tc.qty, "ord-1")
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, ok)
			}
		})
	}
}

func TestStockCheckerExcludesOrder(t *testing.T) {
	ledger := &stubStockLedger{}
	checker, err := NewStockChecker(StockCheckerDeps{
		Products: &stubProductRepo{products: map[string]domain.Product{"p": {ID: "p", StockID: "S", StockLevel: 3}}},
		Ledger:   ledger,
	})
	if err != nil {
		t.Fatalf("NewStockChecker: %v", err)
	}
	if _, err := checker.Check(context.Background(), domain.LineItem{ProductID: "p"}, 1, "ord-9"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(ledger.excluded) != 1 || ledger.excluded[0] != "ord-9" {
		t.Fatalf("expected ledger to exclude the current order, got %v", ledger.excluded)
	}
}

func TestProductFlagAccessor(t *testing.T) {
	product := domain.Product{
		Stocked:    true,
		StockLevel: 0,
		Attributes: map[string]any{"Yes": true, "No": "false", "Zero": 0.0, "Text": "on"},
	}
	cases := map[string]bool{
		"Stocked":    true,
		"StockLevel": false,
		"Yes":        true,
		"No":         false,
		"Zero":       false,
		"Text":       true,
		"Missing":    false,
	}
	for param, want := range cases {
		if got := ProductFlagAccessor(param)(product); got != want {
			t.Fatalf("%s: expected %v, got %v", param, want, got)
		}
	}
}
