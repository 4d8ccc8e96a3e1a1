package services

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type stubOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	taken    map[domain.OrderKind]map[int64]bool
	inserts  int
	updates  int
	insertFn func(context.Context, domain.Order) error
	updateFn func(context.Context, domain.Order) error
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{
		orders: make(map[string]domain.Order),
		taken:  make(map[domain.OrderKind]map[int64]bool),
	}
}

func (s *stubOrderRepo) reserve(kind domain.OrderKind, refs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken[kind] == nil {
		s.taken[kind] = make(map[int64]bool)
	}
	for _, ref := range refs {
		s.taken[kind][ref] = true
	}
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		if err := s.insertFn(ctx, order); err != nil {
			return err
		}
	}
	return s.write(order, true)
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		if err := s.updateFn(ctx, order); err != nil {
			return err
		}
	}
	return s.write(order, false)
}

func (s *stubOrderRepo) write(order domain.Order, insert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.orders {
		if id == order.ID {
			continue
		}
		if existing.Kind == order.Kind && existing.Ref == order.Ref {
			return repositories.NewConflict("orders.write", errors.New("duplicate ref"))
		}
	}
	if insert {
		s.inserts++
	} else {
		s.updates++
	}
	s.orders[order.ID] = order.Clone()
	if s.taken[order.Kind] == nil {
		s.taken[order.Kind] = make(map[int64]bool)
	}
	s.taken[order.Kind][order.Ref] = true
	return nil
}

func (s *stubOrderRepo) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, orderID)
	return nil
}

func (s *stubOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.get", nil)
	}
	return order.Clone(), nil
}

func (s *stubOrderRepo) FindByRef(_ context.Context, kind domain.OrderKind, ref int64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.Kind == kind && order.Ref == ref {
			return order.Clone(), nil
		}
	}
	return domain.Order{}, repositories.NewNotFound("orders.by_ref", nil)
}

func (s *stubOrderRepo) FindByAccessKey(_ context.Context, key string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.AccessKey == key {
			return order.Clone(), nil
		}
	}
	return domain.Order{}, repositories.NewNotFound("orders.by_access_key", nil)
}

func (s *stubOrderRepo) LastRef(_ context.Context, kind domain.OrderKind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []int64
	for _, order := range s.orders {
		if order.Kind == kind {
			refs = append(refs, order.Ref)
		}
	}
	if len(refs) == 0 {
		return 0, nil
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs[len(refs)-1], nil
}

func (s *stubOrderRepo) RefExists(_ context.Context, kind domain.OrderKind, ref int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taken[kind][ref], nil
}

func (s *stubOrderRepo) AccessKeyExists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.AccessKey == key {
			return true, nil
		}
	}
	return false, nil
}

type stubProductRepo struct {
	products map[string]domain.Product
	findFn   func(context.Context, string) (domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFound("products.get", nil)
	}
	return product, nil
}

func (s *stubProductRepo) FindVersion(ctx context.Context, productID string, _ int64) (domain.Product, error) {
	return s.FindByID(ctx, productID)
}

type stubContactRepo struct {
	contacts map[string]domain.Contact
}

func (s *stubContactRepo) FindByID(_ context.Context, contactID string) (domain.Contact, error) {
	contact, ok := s.contacts[contactID]
	if !ok {
		return domain.Contact{}, repositories.NewNotFound("contacts.get", nil)
	}
	return contact, nil
}

type stubTaxCategoryRepo struct {
	categories map[string]domain.TaxCategory
	err        error
}

func (s *stubTaxCategoryRepo) FindByID(_ context.Context, categoryID string) (domain.TaxCategory, error) {
	if s.err != nil {
		return domain.TaxCategory{}, s.err
	}
	category, ok := s.categories[categoryID]
	if !ok {
		return domain.TaxCategory{}, repositories.NewNotFound("tax_categories.get", nil)
	}
	return category, nil
}

type stubStockLedger struct {
	committed map[string]int64
	excluded  []string
}

func (s *stubStockLedger) CommittedQuantity(_ context.Context, stockID string, excludeOrderID string) (int64, error) {
	s.excluded = append(s.excluded, excludeOrderID)
	return s.committed[stockID], nil
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type captureArchive struct {
	archived []domain.Order
}

func (c *captureArchive) ArchiveInvoice(_ context.Context, order domain.Order) (string, error) {
	c.archived = append(c.archived, order)
	return "gs://exports/invoices/" + order.ID + ".json", nil
}

type stubUnitOfWork struct {
	calls int
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	s.calls++
	return fn(ctx)
}

type recordingPlugin struct {
	name        string
	priceCalls  int
	customCalls int
	priceFn     func(*LineItemContext, domain.ExtraData) error
	customFn    func(*LineItemContext, domain.ExtraData) error
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) ModifyItemPrice(_ context.Context, item *LineItemContext, extra domain.ExtraData) error {
	p.priceCalls++
	if p.priceFn != nil {
		return p.priceFn(item, extra)
	}
	return nil
}

func (p *recordingPlugin) CustomiseLineItem(_ context.Context, item *LineItemContext, extra domain.ExtraData) error {
	p.customCalls++
	if p.customFn != nil {
		return p.customFn(item, extra)
	}
	return nil
}

func price(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + strconv.Itoa(n)
	}
}
