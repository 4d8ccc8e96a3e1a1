package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// ProductFlagAccessor returns a ProductFlag reading the named product field. Unknown names are
// looked up in the product attributes.
func ProductFlagAccessor(param string) ProductFlag {
	name := strings.TrimSpace(param)
	switch strings.ToLower(name) {
	case "stocked":
		return func(p domain.Product) bool { return p.Stocked }
	case "stocklevel":
		return func(p domain.Product) bool { return p.StockLevel != 0 }
	case "deliverable":
		return func(p domain.Product) bool { return p.Deliverable }
	case "":
		return func(domain.Product) bool { return false }
	}
	return func(p domain.Product) bool {
		value, ok := p.Attributes[name]
		if !ok {
			return false
		}
		return truthy(value)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false
		}
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0
		}
		return true
	default:
		return true
	}
}

// StockCheckerDeps bundles collaborators for the stock checker.
type StockCheckerDeps struct {
	Products     repositories.ProductRepository
	Ledger       repositories.StockLedger
	ForceCheck   bool
	StockTracked ProductFlag
	Logger       *zap.Logger
}

// StockChecker decides whether enough stock remains to commit a quantity of an item. The answer
// is advisory: nothing is reserved.
type StockChecker struct {
	products     repositories.ProductRepository
	ledger       repositories.StockLedger
	forceCheck   bool
	stockTracked ProductFlag
	logger       *zap.Logger
}

// NewStockChecker wires a stock checker.
func NewStockChecker(deps StockCheckerDeps) (*StockChecker, error) {
	if deps.Products == nil {
		return nil, errors.New("stock checker: product repository is required")
	}
	tracked := deps.StockTracked
	if tracked == nil {
		tracked = ProductFlagAccessor(DefaultOrderSettings().ProductStockParam)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockChecker{
		products:     deps.Products,
		ledger:       deps.Ledger,
		forceCheck:   deps.ForceCheck,
		stockTracked: tracked,
		logger:       logger.Named("stock"),
	}, nil
}

// Check reports whether requestedQty of the item can be committed, ignoring quantities already
// held by excludeOrderID.
func (s *StockChecker) Check(ctx context.Context, item domain.LineItem, requestedQty int, excludeOrderID string) (bool, error) {
	productID := strings.TrimSpace(item.ProductID)
	if productID == "" {
		return true, nil
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return true, nil
		}
		return false, fmt.Errorf("stock checker: load product %q: %w", productID, err)
	}

	if !s.forceCheck && !s.stockTracked(product) {
		return true, nil
	}

	stockID := item.StockID
	if stockID == "" {
		stockID = product.StockID
	}

	var committed int64
	if s.ledger != nil && stockID != "" {
		committed, err = s.ledger.CommittedQuantity(ctx, stockID, excludeOrderID)
		if err != nil {
			return false, fmt.Errorf("stock checker: committed quantity for %q: %w", stockID, err)
		}
	}

	remaining := product.StockLevel - committed - int64(requestedQty)
	if remaining < 0 {
		s.logger.Debug("stock exhausted",
			zap.String("stockID", stockID),
			zap.Int64("level", product.StockLevel),
			zap.Int64("committed", committed),
			zap.Int("requested", requestedQty),
		)
		return false, nil
	}
	return true, nil
}
