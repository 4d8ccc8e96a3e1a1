package postgres

import (
	"context"

	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/orders/internal/domain"
)

// ProductRepository keeps every product version; the highest version is current.
type ProductRepository struct{ s *Store }

func (r ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var row productRow
	err := r.s.conn(ctx).Where("id = ?", productID).Order("version DESC").Take(&row).Error
	if err != nil {
		return domain.Product{}, wrapError("products.get", err)
	}
	return row.toDomain(), nil
}

func (r ProductRepository) FindVersion(ctx context.Context, productID string, version int64) (domain.Product, error) {
	var row productRow
	err := r.s.conn(ctx).Where("id = ? AND version = ?", productID, version).Take(&row).Error
	if err != nil {
		return domain.Product{}, wrapError("products.version", err)
	}
	return row.toDomain(), nil
}

// Save upserts the product version.
func (r ProductRepository) Save(ctx context.Context, product domain.Product) error {
	row := newProductRow(product)
	err := r.s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	return wrapError("products.save", err)
}

// TaxCategoryRepository reads and writes tax categories.
type TaxCategoryRepository struct{ s *Store }

func (r TaxCategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.TaxCategory, error) {
	var row taxCategoryRow
	if err := r.s.conn(ctx).Take(&row, "id = ?", categoryID).Error; err != nil {
		return domain.TaxCategory{}, wrapError("tax_categories.get", err)
	}
	return domain.TaxCategory{ID: row.ID, Title: row.Title, Rates: row.Rates}, nil
}

// Save upserts the category.
func (r TaxCategoryRepository) Save(ctx context.Context, category domain.TaxCategory) error {
	row := taxCategoryRow{ID: category.ID, Title: category.Title, Rates: category.Rates}
	err := r.s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	return wrapError("tax_categories.save", err)
}

// ContactRepository reads and writes contacts.
type ContactRepository struct{ s *Store }

func (r ContactRepository) FindByID(ctx context.Context, contactID string) (domain.Contact, error) {
	var row contactRow
	if err := r.s.conn(ctx).Take(&row, "id = ?", contactID).Error; err != nil {
		return domain.Contact{}, wrapError("contacts.get", err)
	}
	return domain.Contact{ID: row.ID, Personal: row.Personal, DefaultAddress: row.DefaultAddress}, nil
}

// Save upserts the contact.
func (r ContactRepository) Save(ctx context.Context, contact domain.Contact) error {
	row := contactRow{ID: contact.ID, Personal: contact.Personal, DefaultAddress: contact.DefaultAddress}
	err := r.s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	return wrapError("contacts.save", err)
}
