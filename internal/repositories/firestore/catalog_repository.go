package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	productsCollection        = "products"
	productVersionsCollection = "productVersions"
	taxCategoriesCollection   = "taxCategories"
	contactsCollection        = "contacts"
)

// ProductRepository reads the current product from products/{id} and pinned versions from
// productVersions/{id}@{version}.
type ProductRepository struct {
	current  *pfirestore.BaseRepository[productDocument]
	versions *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		current:  pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		versions: pfirestore.NewBaseRepository[productDocument](provider, productVersionsCollection, nil, nil),
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.current.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *ProductRepository) FindVersion(ctx context.Context, productID string, version int64) (domain.Product, error) {
	doc, err := r.versions.Get(ctx, versionDocID(productID, version))
	if err == nil {
		return doc.Data.toDomain(productID)
	}
	if !repositories.IsNotFound(err) {
		return domain.Product{}, err
	}
	latest, err := r.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if latest.Version != version {
		return domain.Product{}, pfirestore.NewError("products.version", codes.NotFound,
			fmt.Errorf("product %q version %d not found", productID, version))
	}
	return latest, nil
}

// Save writes the product as current and records the version snapshot.
func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	doc := newProductDocument(product)
	if err := r.versions.Set(ctx, versionDocID(product.ID, product.Version), doc); err != nil {
		return err
	}
	return r.current.Set(ctx, product.ID, doc)
}

func versionDocID(productID string, version int64) string {
	return fmt.Sprintf("%s@%d", productID, version)
}

// TaxCategoryRepository reads taxCategories/{id}.
type TaxCategoryRepository struct {
	base *pfirestore.BaseRepository[taxCategoryDocument]
}

var _ repositories.TaxCategoryRepository = (*TaxCategoryRepository)(nil)

func NewTaxCategoryRepository(provider *pfirestore.Provider) (*TaxCategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("tax category repository requires firestore provider")
	}
	return &TaxCategoryRepository{
		base: pfirestore.NewBaseRepository[taxCategoryDocument](provider, taxCategoriesCollection, nil, nil),
	}, nil
}

func (r *TaxCategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.TaxCategory, error) {
	doc, err := r.base.Get(ctx, categoryID)
	if err != nil {
		return domain.TaxCategory{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// Save upserts the category.
func (r *TaxCategoryRepository) Save(ctx context.Context, category domain.TaxCategory) error {
	doc := taxCategoryDocument{Title: category.Title}
	for _, rate := range category.Rates {
		doc.Rates = append(doc.Rates, newTaxRateDocument(rate))
	}
	return r.base.Set(ctx, category.ID, doc)
}

// ContactRepository reads contacts/{id}.
type ContactRepository struct {
	base *pfirestore.BaseRepository[contactDocument]
}

var _ repositories.ContactRepository = (*ContactRepository)(nil)

func NewContactRepository(provider *pfirestore.Provider) (*ContactRepository, error) {
	if provider == nil {
		return nil, errors.New("contact repository requires firestore provider")
	}
	return &ContactRepository{
		base: pfirestore.NewBaseRepository[contactDocument](provider, contactsCollection, nil, nil),
	}, nil
}

func (r *ContactRepository) FindByID(ctx context.Context, contactID string) (domain.Contact, error) {
	doc, err := r.base.Get(ctx, contactID)
	if err != nil {
		return domain.Contact{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Save upserts the contact.
func (r *ContactRepository) Save(ctx context.Context, contact domain.Contact) error {
	doc := contactDocument{Personal: personalDocument(contact.Personal)}
	if contact.DefaultAddress != nil {
		address := addressDocument(*contact.DefaultAddress)
		doc.DefaultAddress = &address
	}
	return r.base.Set(ctx, contact.ID, doc)
}

// StockLedger sums quantities held by invoices using the denormalised stockIds array on
// each order document.
type StockLedger struct {
	orders *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.StockLedger = (*StockLedger)(nil)

func NewStockLedger(orders *OrderRepository) (*StockLedger, error) {
	if orders == nil {
		return nil, errors.New("stock ledger requires order repository")
	}
	return &StockLedger{orders: orders.orders}, nil
}

func (l *StockLedger) CommittedQuantity(ctx context.Context, stockID string, excludeOrderID string) (int64, error) {
	docs, err := l.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("kind", "==", string(domain.OrderKindInvoice)).Where("stockIds", "array-contains", stockID)
	})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, doc := range docs {
		if doc.ID == excludeOrderID {
			continue
		}
		for _, item := range doc.Data.Items {
			if item.StockID == stockID {
				total += int64(item.Quantity)
			}
		}
	}
	return total, nil
}
