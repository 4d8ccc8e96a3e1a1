// Package memory provides an in-process repository registry for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type txKey struct{}

// Store keeps every collection in maps guarded by a single mutex. Transactions are serialised
// and roll back by restoring a snapshot of the order collection.
type Store struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	orders     map[string]domain.Order
	products   map[string][]domain.Product
	categories map[string]domain.TaxCategory
	contacts   map[string]domain.Contact

	health repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{
		orders:     make(map[string]domain.Order),
		products:   make(map[string][]domain.Product),
		categories: make(map[string]domain.TaxCategory),
		contacts:   make(map[string]domain.Contact),
	}
	s.health, _ = repositories.NewProbeHealth([]repositories.Probe{{
		Name: "memory",
		Ping: func(context.Context) error { return nil },
	}}, nil)
	return s
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

// Orders implements repositories.Registry.
func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }

// Products implements repositories.Registry.
func (s *Store) Products() repositories.ProductRepository { return productRepository{s} }

// TaxCategories implements repositories.Registry.
func (s *Store) TaxCategories() repositories.TaxCategoryRepository { return taxCategoryRepository{s} }

// Contacts implements repositories.Registry.
func (s *Store) Contacts() repositories.ContactRepository { return contactRepository{s} }

// StockLedger implements repositories.Registry.
func (s *Store) StockLedger() repositories.StockLedger { return stockLedger{s} }

// Health implements repositories.Registry.
func (s *Store) Health() repositories.HealthRepository { return s.health }

// RunInTx runs fn with exclusive access to the store. When fn fails every order write made
// inside it is discarded. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return errors.New("memory: transaction function is required")
	}
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[string]domain.Order, len(s.orders))
	for id, order := range s.orders {
		snapshot[id] = order
	}
	s.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			s.restore(snapshot)
			panic(r)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) restore(snapshot map[string]domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = snapshot
}

// PutProduct stores a product version. The highest version is returned by FindByID.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.products[product.ID]
	for i := range versions {
		if versions[i].Version == product.Version {
			versions[i] = product
			return
		}
	}
	s.products[product.ID] = append(versions, product)
}

// PutTaxCategory stores a tax category.
func (s *Store) PutTaxCategory(category domain.TaxCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[category.ID] = category
}

// PutContact stores a contact.
func (s *Store) PutContact(contact domain.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.ID] = contact
}

type productRepository struct{ s *Store }

func (r productRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	versions := r.s.products[productID]
	if len(versions) == 0 {
		return domain.Product{}, repositories.NewNotFound("products.get", fmt.Errorf("product %q not found", productID))
	}
	latest := versions[0]
	for _, p := range versions[1:] {
		if p.Version > latest.Version {
			latest = p
		}
	}
	return latest, nil
}

func (r productRepository) FindVersion(_ context.Context, productID string, version int64) (domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.products[productID] {
		if p.Version == version {
			return p, nil
		}
	}
	return domain.Product{}, repositories.NewNotFound("products.version", fmt.Errorf("product %q version %d not found", productID, version))
}

type taxCategoryRepository struct{ s *Store }

func (r taxCategoryRepository) FindByID(_ context.Context, categoryID string) (domain.TaxCategory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	category, ok := r.s.categories[categoryID]
	if !ok {
		return domain.TaxCategory{}, repositories.NewNotFound("tax_categories.get", fmt.Errorf("tax category %q not found", categoryID))
	}
	return category, nil
}

type contactRepository struct{ s *Store }

func (r contactRepository) FindByID(_ context.Context, contactID string) (domain.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	contact, ok := r.s.contacts[contactID]
	if !ok {
		return domain.Contact{}, repositories.NewNotFound("contacts.get", fmt.Errorf("contact %q not found", contactID))
	}
	return contact, nil
}

type stockLedger struct{ s *Store }

// CommittedQuantity sums the quantities held by invoices other than excludeOrderID.
func (l stockLedger) CommittedQuantity(_ context.Context, stockID string, excludeOrderID string) (int64, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var total int64
	for id, order := range l.s.orders {
		if id == excludeOrderID || !order.IsInvoice() {
			continue
		}
		for _, item := range order.Items {
			if item.StockID == stockID {
				total += int64(item.Quantity)
			}
		}
	}
	return total, nil
}
