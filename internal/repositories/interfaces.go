package repositories

import (
	"context"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	TaxCategories() TaxCategoryRepository
	Contacts() ContactRepository
	StockLedger() StockLedger
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists estimates and invoices together with their line items. Writes
// replace the full item set so each call is all-or-nothing.
type OrderRepository interface {
	// Insert stores a new order. A duplicate (kind, ref) or access key must return a
	// RepositoryError reporting IsConflict.
	Insert(ctx context.Context, order domain.Order) error
	// Update overwrites an existing order, with the same uniqueness guarantees as Insert.
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByRef(ctx context.Context, kind domain.OrderKind, ref int64) (domain.Order, error)
	FindByAccessKey(ctx context.Context, accessKey string) (domain.Order, error)
	// LastRef returns the highest reference allocated for the kind, or zero.
	LastRef(ctx context.Context, kind domain.OrderKind) (int64, error)
	RefExists(ctx context.Context, kind domain.OrderKind, ref int64) (bool, error)
	AccessKeyExists(ctx context.Context, accessKey string) (bool, error)
}

// ProductRepository reads catalogue products, optionally pinned to a version.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindVersion(ctx context.Context, productID string, version int64) (domain.Product, error)
}

// TaxCategoryRepository resolves tax categories and their regional rates.
type TaxCategoryRepository interface {
	FindByID(ctx context.Context, categoryID string) (domain.TaxCategory, error)
}

// ContactRepository reads customer contacts.
type ContactRepository interface {
	FindByID(ctx context.Context, contactID string) (domain.Contact, error)
}

// StockLedger reports stock already committed to open invoices.
type StockLedger interface {
	CommittedQuantity(ctx context.Context, stockID string, excludeOrderID string) (int64, error)
}
