package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type assemblerFixture struct {
	assembler *OrderAssembler
	orders    *stubOrderRepo
	products  *stubProductRepo
	contacts  *stubContactRepo
	events    *captureOrderEvents
	archive   *captureArchive
	unit      *stubUnitOfWork
	now       time.Time
}

func newAssemblerFixture(t *testing.T, registry *LineItemPluginRegistry) *assemblerFixture {
	t.Helper()

	now := time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)
	vat := domain.TaxRate{ID: 1, Title: "VAT", Rate: decimal.NewFromInt(20)}
	fixture := &assemblerFixture{
		orders: newStubOrderRepo(),
		products: &stubProductRepo{products: map[string]domain.Product{
			"socks": {ID: "socks", Title: "Socks", BasePrice: price("5.99"), StockID: "SOCKS", StockLevel: 10, DefaultTaxRate: &vat},
			"tee": {ID: "tee", Title: "Tee", BasePrice: price("12"), StockID: "TEE", OptionGroups: []domain.OptionGroup{
				{ID: "size", Title: "Size", Options: []domain.Option{{ID: "l", Title: "Large", ModifyPrice: decimal.NewFromInt(2)}}},
			}},
		}},
		contacts: &stubContactRepo{contacts: map[string]domain.Contact{
			"c-9": {ID: "c-9", Personal: domain.PersonalDetails{FirstName: "Ana", Email: "ana@example.com"}},
		}},
		events:  &captureOrderEvents{},
		archive: &captureArchive{},
		unit:    &stubUnitOfWork{},
		now:     now,
	}

	builder, err := NewLineItemBuilder(LineItemBuilderDeps{
		Tax:         NewTaxResolver(nil, nil),
		Plugins:     registry,
		IDGenerator: sequentialIDs("li-"),
	})
	if err != nil {
		t.Fatalf("NewLineItemBuilder: %v", err)
	}
	stock, err := NewStockChecker(StockCheckerDeps{Products: fixture.products, Ledger: &stubStockLedger{}})
	if err != nil {
		t.Fatalf("NewStockChecker: %v", err)
	}

	fixture.assembler, err = NewOrderAssembler(OrderAssemblerDeps{
		Orders:      fixture.orders,
		Products:    fixture.products,
		Contacts:    fixture.contacts,
		Builder:     builder,
		Stock:       stock,
		UnitOfWork:  fixture.unit,
		Events:      fixture.events,
		Archive:     fixture.archive,
		Clock:       func() time.Time { return now },
		IDGenerator: sequentialIDs("ord-"),
		AccessKeys:  sequentialIDs("key-"),
	})
	if err != nil {
		t.Fatalf("NewOrderAssembler: %v", err)
	}
	return fixture
}

func TestOrderAssemblerAddItemMergesDuplicates(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	ctx := context.Background()

	order, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{ProductID: "socks", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	order, err = f.assembler.AddItem(ctx, order, AddItemInput{ProductID: "socks", Quantity: 3})
	if err != nil {
		t.Fatalf("AddItem second: %v", err)
	}

	if len(order.Items) != 1 {
		t.Fatalf("expected a single merged item, got %d", len(order.Items))
	}
	if order.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", order.Items[0].Quantity)
	}
	if f.orders.inserts != 1 || f.orders.updates != 1 {
		t.Fatalf("expected one insert and one update, got %d/%d", f.orders.inserts, f.orders.updates)
	}
	stored, err := f.orders.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Items[0].Quantity != 5 {
		t.Fatalf("expected stored quantity 5, got %d", stored.Items[0].Quantity)
	}
}

func TestOrderAssemblerAddItemInsufficientStock(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	ctx := context.Background()

	order, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{ProductID: "socks", Quantity: 10})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	_, err = f.assembler.AddItem(ctx, order, AddItemInput{ProductID: "socks", Quantity: 1})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.ItemTitle != "Socks" {
		t.Fatalf("unexpected title %q", stockErr.ItemTitle)
	}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected sentinel match")
	}

	stored, _ := f.orders.FindByID(ctx, order.ID)
	if stored.Items[0].Quantity != 10 {
		t.Fatalf("expected stored order untouched, got %d", stored.Items[0].Quantity)
	}
	if order.Items[0].Quantity != 10 {
		t.Fatalf("expected caller order untouched, got %d", order.Items[0].Quantity)
	}
}

func TestOrderAssemblerUpdateItem(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	ctx := context.Background()

	order, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{ProductID: "socks", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	key := order.Items[0].Key

	unchanged, err := f.assembler.UpdateItem(ctx, order, "missing", 4, false)
	if err != nil {
		t.Fatalf("UpdateItem missing: %v", err)
	}
	if unchanged.Items[0].Quantity != 1 {
		t.Fatalf("expected no-op for unknown key")
	}

	order, err = f.assembler.UpdateItem(ctx, order, key, 4, false)
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if order.Items[0].Quantity != 4 {
		t.Fatalf("expected quantity 4, got %d", order.Items[0].Quantity)
	}

	_, err = f.assembler.UpdateItem(ctx, order, key, 7, true)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected stock rejection for 11 units, got %v", err)
	}
}

func TestOrderAssemblerLockedItemRejectsQuantityChange(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	ctx := context.Background()

	order, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{ProductID: "socks", Quantity: 1, Locked: true})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	_, err = f.assembler.UpdateItem(ctx, order, order.Items[0].Key, 2, false)
	var logicErr *LogicError
	if !errors.As(err, &logicErr) {
		t.Fatalf("expected logic error, got %v", err)
	}

	order, err = f.assembler.RemoveItem(ctx, order, order.Items[0].Key)
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(order.Items) != 0 {
		t.Fatalf("expected locked item to be removable")
	}
}

func TestOrderAssemblerRemoveItemMissingIsNoop(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	order := domain.Order{ID: "ord-x", Items: []domain.LineItem{{Key: "A", Quantity: 1}}}

	got, err := f.assembler.RemoveItem(context.Background(), order, "B")
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(got.Items) != 1 || f.orders.updates != 0 {
		t.Fatalf("expected no write for unknown key")
	}
}

func TestOrderAssemblerQuantityMustBePositive(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	ctx := context.Background()

	_, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{ProductID: "socks", Quantity: 0})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
	if f.orders.inserts != 0 || f.orders.updates != 0 {
		t.Fatalf("expected no write for rejected item")
	}

	order, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{ProductID: "socks", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	key := order.Items[0].Key

	if _, err := f.assembler.UpdateItem(ctx, order, key, -1, false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for negative quantity, got %v", err)
	}

	cleared, err := f.assembler.UpdateItem(ctx, order, key, 0, false)
	if err != nil {
		t.Fatalf("UpdateItem to zero: %v", err)
	}
	if len(cleared.Items) != 0 {
		t.Fatalf("expected zero quantity to remove the item, got %d items", len(cleared.Items))
	}

	decremented, err := f.assembler.UpdateItem(ctx, order, key, -2, true)
	if err != nil {
		t.Fatalf("UpdateItem decrement: %v", err)
	}
	if len(decremented.Items) != 0 {
		t.Fatalf("expected decrement to zero to remove the item")
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Metadata["removed"] != key {
		t.Fatalf("expected removal event for %q, got %#v", key, last.Metadata)
	}
}

func TestOrderAssemblerStockCountsSiblingLines(t *testing.T) {
	colour := &recordingPlugin{
		name: "colour",
		customFn: func(item *LineItemContext, extra domain.ExtraData) error {
			if value, ok := extra.String("colour"); ok {
				item.AddCustomisation("Colour", value, nil, nil)
			}
			return nil
		},
	}
	registry := NewLineItemPluginRegistry()
	registry.RegisterCustomiser(colour)
	f := newAssemblerFixture(t, registry)
	ctx := context.Background()

	order, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{
		ProductID: "socks", Quantity: 8, Extra: domain.ExtraData{"colour": "Red"},
	})
	if err != nil {
		t.Fatalf("AddItem red: %v", err)
	}

	_, err = f.assembler.AddItem(ctx, order, AddItemInput{
		ProductID: "socks", Quantity: 8, Extra: domain.ExtraData{"colour": "Blue"},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected 16 units of one stock item to be rejected, got %v", err)
	}

	order, err = f.assembler.AddItem(ctx, order, AddItemInput{
		ProductID: "socks", Quantity: 2, Extra: domain.ExtraData{"colour": "Blue"},
	})
	if err != nil {
		t.Fatalf("AddItem blue: %v", err)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected two customised lines, got %d", len(order.Items))
	}

	blue := order.Items[1].Key
	if _, err := f.assembler.UpdateItem(ctx, order, blue, 3, false); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected update past the shared stock level to be rejected, got %v", err)
	}
	order, err = f.assembler.UpdateItem(ctx, order, order.Items[0].Key, 5, false)
	if err != nil {
		t.Fatalf("UpdateItem red: %v", err)
	}
	if order.Items[0].Quantity != 5 || order.Items[1].Quantity != 2 {
		t.Fatalf("unexpected quantities %d and %d", order.Items[0].Quantity, order.Items[1].Quantity)
	}
}

func TestOrderAssemblerUpdateItemFoldsCollidingKeys(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	f.products.products["old"] = domain.Product{ID: "old", Title: "Old socks", BasePrice: price("4"), StockID: "A"}
	ctx := context.Background()

	order, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{ProductID: "socks", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem socks: %v", err)
	}
	order, err = f.assembler.AddItem(ctx, order, AddItemInput{ProductID: "old", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem old: %v", err)
	}

	renamed := f.products.products["old"]
	renamed.StockID = "SOCKS"
	renamed.StockLevel = 10
	f.products.products["old"] = renamed

	if _, err := f.assembler.UpdateItem(ctx, order, "A", 10, false); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected merged quantity of 11 to be rejected, got %v", err)
	}

	order, err = f.assembler.UpdateItem(ctx, order, "A", 2, false)
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected colliding lines to be folded, got %d items", len(order.Items))
	}
	if order.Items[0].Key != "SOCKS" || order.Items[0].Quantity != 3 {
		t.Fatalf("unexpected merged line %q x%d", order.Items[0].Key, order.Items[0].Quantity)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Metadata["merged"] != "A" {
		t.Fatalf("expected merge to be reported, got %#v", last.Metadata)
	}
}

func TestOrderAssemblerCalculateNextRef(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	f.orders.orders["existing"] = domain.Order{ID: "existing", Kind: domain.OrderKindInvoice, Ref: 1237}
	f.orders.reserve(domain.OrderKindInvoice, 1237, 1238)

	ref, err := f.assembler.CalculateNextRef(context.Background(), domain.OrderKindInvoice)
	if err != nil {
		t.Fatalf("CalculateNextRef: %v", err)
	}
	if ref != 1239 {
		t.Fatalf("expected 1239, got %d", ref)
	}

	ref, err = f.assembler.CalculateNextRef(context.Background(), domain.OrderKindEstimate)
	if err != nil {
		t.Fatalf("CalculateNextRef estimate: %v", err)
	}
	if ref != 1 {
		t.Fatalf("expected first estimate ref 1, got %d", ref)
	}
}

func TestOrderAssemblerSaveFillsDefaults(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	order := f.assembler.New(domain.OrderKindEstimate)
	order.Billing = domain.Address{Line1: "1 High St", City: "Leeds", Country: "GB", Region: "ENG"}

	saved, err := f.assembler.Save(context.Background(), order)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if saved.ID != "ord-1" || saved.AccessKey != "key-1" || saved.Ref != 1 {
		t.Fatalf("unexpected identity %q %q %d", saved.ID, saved.AccessKey, saved.Ref)
	}
	if saved.Prefix != "EST" || saved.FullRef(4) != "EST-0001" {
		t.Fatalf("unexpected ref %s", saved.FullRef(4))
	}
	if saved.Delivery != saved.Billing {
		t.Fatalf("expected delivery copied from billing")
	}
	if saved.StartDate == nil || !saved.StartDate.Equal(f.now) {
		t.Fatalf("unexpected start date %v", saved.StartDate)
	}
	if saved.EndDate == nil || !saved.EndDate.Equal(f.now.AddDate(0, 0, 30)) {
		t.Fatalf("unexpected end date %v", saved.EndDate)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != orderEventCreated {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestOrderAssemblerSaveRetriesRefConflicts(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	conflicts := 2
	f.orders.insertFn = func(context.Context, domain.Order) error {
		if conflicts > 0 {
			conflicts--
			return repositories.NewConflict("orders.insert", errors.New("ref taken"))
		}
		return nil
	}

	saved, err := f.assembler.Save(context.Background(), f.assembler.New(domain.OrderKindInvoice))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Ref != 1 || f.unit.calls != 3 {
		t.Fatalf("expected success on third attempt, ref=%d calls=%d", saved.Ref, f.unit.calls)
	}

	f.orders.insertFn = func(context.Context, domain.Order) error {
		return repositories.NewConflict("orders.insert", errors.New("ref taken"))
	}
	_, err = f.assembler.Save(context.Background(), f.assembler.New(domain.OrderKindInvoice))
	if !errors.Is(err, ErrOrderRefExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestOrderAssemblerConvertEstimateToInvoice(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	ctx := context.Background()
	f.orders.orders["inv-old"] = domain.Order{ID: "inv-old", Kind: domain.OrderKindInvoice, Ref: 41, AccessKey: "old"}
	f.orders.reserve(domain.OrderKindInvoice, 41)

	estimate, err := f.assembler.AddItem(ctx, f.assembler.New(domain.OrderKindEstimate), AddItemInput{ProductID: "socks", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	invoice, err := f.assembler.ConvertEstimateToInvoice(ctx, estimate)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if invoice.Kind != domain.OrderKindInvoice || invoice.ID != estimate.ID {
		t.Fatalf("unexpected invoice %#v", invoice)
	}
	if invoice.Ref != 42 || invoice.Prefix != "INV" {
		t.Fatalf("expected INV ref 42, got %s %d", invoice.Prefix, invoice.Ref)
	}
	if invoice.StartDate != nil || invoice.EndDate != nil {
		t.Fatalf("expected validity window cleared")
	}
	if invoice.AccessKey != estimate.AccessKey {
		t.Fatalf("expected access key to survive conversion")
	}
	if len(f.archive.archived) != 1 {
		t.Fatalf("expected invoice archived once")
	}

	again, err := f.assembler.ConvertEstimateToInvoice(ctx, invoice)
	if err != nil {
		t.Fatalf("Convert again: %v", err)
	}
	if again.Ref != 42 || len(f.archive.archived) != 1 {
		t.Fatalf("expected second conversion to be a no-op")
	}

	converted := 0
	for _, eventType := range f.events.types() {
		if eventType == orderEventConverted {
			converted++
		}
	}
	if converted != 1 {
		t.Fatalf("expected one conversion event, got %d", converted)
	}
}

func TestOrderAssemblerSetCustomer(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	address := domain.Address{Line1: "2 Low Rd", City: "York", Country: "GB", Region: "ENG"}
	contact := domain.Contact{
		ID:             "c-1",
		Personal:       domain.PersonalDetails{FirstName: "Sam", Surname: "Lee", Email: "sam@example.com"},
		DefaultAddress: &address,
	}

	order, err := f.assembler.SetCustomer(context.Background(), f.assembler.New(domain.OrderKindEstimate), contact)
	if err != nil {
		t.Fatalf("SetCustomer: %v", err)
	}
	if order.CustomerID != "c-1" || order.Personal.Email != "sam@example.com" {
		t.Fatalf("unexpected customer %#v", order)
	}
	if order.Billing != address || order.Delivery != address {
		t.Fatalf("expected default address applied")
	}

	_, err = f.assembler.SetCustomer(context.Background(), order, domain.Contact{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOrderAssemblerSetCustomerByID(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	ctx := context.Background()

	order, err := f.assembler.SetCustomerByID(ctx, f.assembler.New(domain.OrderKindEstimate), " c-9 ")
	if err != nil {
		t.Fatalf("SetCustomerByID: %v", err)
	}
	if order.CustomerID != "c-9" || order.Personal.Email != "ana@example.com" {
		t.Fatalf("unexpected customer %#v", order)
	}

	if _, err := f.assembler.SetCustomerByID(ctx, order, "missing"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown contact, got %v", err)
	}
}

func TestOrderAssemblerFindOrMake(t *testing.T) {
	f := newAssemblerFixture(t, nil)
	ctx := context.Background()
	f.orders.orders["ord-7"] = domain.Order{ID: "ord-7", Kind: domain.OrderKindEstimate, Ref: 7}

	byID, err := f.assembler.FindOrMake(ctx, domain.OrderKindEstimate, "ord-7", 0)
	if err != nil || byID.ID != "ord-7" {
		t.Fatalf("expected lookup by id, got %#v %v", byID, err)
	}
	byRef, err := f.assembler.FindOrMake(ctx, domain.OrderKindEstimate, "missing", 7)
	if err != nil || byRef.ID != "ord-7" {
		t.Fatalf("expected lookup by ref, got %#v %v", byRef, err)
	}
	wrongKind, err := f.assembler.FindOrMake(ctx, domain.OrderKindInvoice, "ord-7", 7)
	if err != nil || wrongKind.ID != "" || wrongKind.Kind != domain.OrderKindInvoice {
		t.Fatalf("expected a fresh invoice, got %#v %v", wrongKind, err)
	}
}
