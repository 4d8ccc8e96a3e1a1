package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const minLocationLength = 2

// TaxResolver picks the tax rate for a line item from the product's tax category and the
// order's delivery location.
type TaxResolver struct {
	categories repositories.TaxCategoryRepository
	logger     *zap.Logger
}

// NewTaxResolver builds a resolver. A nil category repository makes every product fall back
// to its default rate.
func NewTaxResolver(categories repositories.TaxCategoryRepository, logger *zap.Logger) *TaxResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaxResolver{categories: categories, logger: logger.Named("tax")}
}

// Resolve never fails: lookup problems degrade to the product default rate.
func (r *TaxResolver) Resolve(ctx context.Context, product *domain.Product, order *domain.Order) domain.TaxRate {
	if product == nil {
		return domain.DefaultTaxRate()
	}

	fallback := productDefaultRate(product)
	categoryID := strings.TrimSpace(product.TaxCategoryID)
	if categoryID == "" || r.categories == nil {
		return fallback
	}
	if order == nil {
		return fallback
	}

	country := strings.TrimSpace(order.Delivery.Country)
	region := strings.TrimSpace(order.Delivery.Region)
	if len(country) < minLocationLength || len(region) < minLocationLength {
		return fallback
	}

	category, err := r.categories.FindByID(ctx, categoryID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			r.logger.Warn("tax category lookup failed",
				zap.String("categoryID", categoryID),
				zap.String("productID", product.ID),
				zap.Error(err),
			)
		}
		return fallback
	}

	if rate, ok := category.BestRate(country, region); ok {
		return rate
	}
	return domain.DefaultTaxRate()
}

func productDefaultRate(product *domain.Product) domain.TaxRate {
	if product.DefaultTaxRate == nil {
		return domain.DefaultTaxRate()
	}
	return *product.DefaultTaxRate
}
