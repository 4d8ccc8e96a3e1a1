// Package firestore implements the order repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

// Registry exposes the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider   *pfirestore.Provider
	orders     *OrderRepository
	products   *ProductRepository
	categories *TaxCategoryRepository
	contacts   *ContactRepository
	ledger     *StockLedger
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on the shared provider.
func NewRegistry(provider *pfirestore.Provider, refField string) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider, refField)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	categories, err := NewTaxCategoryRepository(provider)
	if err != nil {
		return nil, err
	}
	contacts, err := NewContactRepository(provider)
	if err != nil {
		return nil, err
	}
	ledger, err := NewStockLedger(orders)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewProbeHealth([]repositories.Probe{{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Ping:    provider.Ping,
	}}, nil)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	return &Registry{
		provider:   provider,
		orders:     orders,
		products:   products,
		categories: categories,
		contacts:   contacts,
		ledger:     ledger,
		health:     health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

// ProductStore exposes the writable product repository for seeding.
func (r *Registry) ProductStore() *ProductRepository { return r.products }

func (r *Registry) TaxCategories() repositories.TaxCategoryRepository { return r.categories }

// TaxCategoryStore exposes the writable tax category repository for seeding.
func (r *Registry) TaxCategoryStore() *TaxCategoryRepository { return r.categories }

func (r *Registry) Contacts() repositories.ContactRepository { return r.contacts }

// ContactStore exposes the writable contact repository for seeding.
func (r *Registry) ContactStore() *ContactRepository { return r.contacts }

func (r *Registry) StockLedger() repositories.StockLedger { return r.ledger }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn inside a Firestore transaction. Repository calls made with the context
// passed to fn join it; a nested call joins the outer transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	}, pfirestore.WithTxAttempts(1))
}
