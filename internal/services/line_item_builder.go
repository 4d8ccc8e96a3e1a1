package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
)

// maxPluginPasses bounds the plugin cascade: customisations carrying extra data trigger one
// follow-up pass and never more.
const maxPluginPasses = 2

// LineItemRequest describes the item to build.
type LineItemRequest struct {
	Product     *domain.Product
	Quantity    int
	Locked      bool
	Deliverable bool
	Order       *domain.Order
	Extra       domain.ExtraData
}

// LineItemBuilderDeps bundles collaborators for the line item builder.
type LineItemBuilderDeps struct {
	Tax         *TaxResolver
	Plugins     *LineItemPluginRegistry
	Stocked     ProductFlag
	CustomMap   []string
	IDGenerator func() string
	Logger      *zap.Logger
}

// LineItemBuilder snapshots a product into a priced line item and runs the registered plugins
// against it.
type LineItemBuilder struct {
	tax       *TaxResolver
	plugins   *LineItemPluginRegistry
	stocked   ProductFlag
	customMap []string
	newID     func() string
	logger    *zap.Logger
}

// NewLineItemBuilder wires a builder.
func NewLineItemBuilder(deps LineItemBuilderDeps) (*LineItemBuilder, error) {
	if deps.Tax == nil {
		return nil, errors.New("line item builder: tax resolver is required")
	}
	plugins := deps.Plugins
	if plugins == nil {
		plugins = NewLineItemPluginRegistry()
	}
	stocked := deps.Stocked
	if stocked == nil {
		stocked = ProductFlagAccessor(DefaultOrderSettings().ProductStockedParam)
	}
	customMap := deps.CustomMap
	if len(customMap) == 0 {
		customMap = DefaultOrderSettings().CustomMap
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineItemBuilder{
		tax:       deps.Tax,
		plugins:   plugins,
		stocked:   stocked,
		customMap: append([]string(nil), customMap...),
		newID:     idGen,
		logger:    logger.Named("line_items"),
	}, nil
}

// Build creates a new line item for the request.
func (b *LineItemBuilder) Build(ctx context.Context, req LineItemRequest) (domain.LineItem, error) {
	item := domain.LineItem{ID: b.newID()}
	return b.assemble(ctx, item, req)
}

// Update rebuilds an existing item against the product in the request, keeping its ID and
// using its modifiers and customisations as the starting point for the plugins.
func (b *LineItemBuilder) Update(ctx context.Context, existing domain.LineItem, req LineItemRequest) (domain.LineItem, error) {
	item := existing.Clone()
	if item.ID == "" {
		item.ID = b.newID()
	}
	return b.assemble(ctx, item, req)
}

func (b *LineItemBuilder) assemble(ctx context.Context, item domain.LineItem, req LineItemRequest) (domain.LineItem, error) {
	product := req.Product
	if product == nil {
		return domain.LineItem{}, newValidationError("no product set")
	}
	if product.BasePrice == nil {
		return domain.LineItem{}, newValidationError("product %q has no base price", product.ID)
	}
	if req.Quantity <= 0 {
		return domain.LineItem{}, newValidationError("quantity must be positive")
	}

	rate := b.tax.Resolve(ctx, product, req.Order)

	item.Title = product.Title
	item.UnmodifiedPrice = *product.BasePrice
	item.TaxRateID = rate.ID
	item.TaxRate = rate.Rate
	item.TaxRateTitle = rate.Title
	item.Quantity = req.Quantity
	item.Stocked = b.stocked(*product)
	item.Deliverable = req.Deliverable
	item.Locked = req.Locked
	item.ProductClass = product.Class
	item.ProductID = product.ID
	item.ProductVersion = product.Version
	item.StockID = product.StockID
	item.Weight = product.Weight

	lctx := &LineItemContext{
		item:      &item,
		product:   *product,
		order:     req.Order,
		customMap: b.customMap,
		newID:     b.newID,
	}

	for pass := 1; pass <= maxPluginPasses; pass++ {
		lctx.cascade = false
		if err := b.runPlugins(ctx, lctx, req.Extra); err != nil {
			return domain.LineItem{}, err
		}
		if !lctx.cascade {
			break
		}
		if pass == maxPluginPasses {
			b.logger.Debug("plugin cascade stopped", zap.String("productID", product.ID), zap.Int("passes", pass))
		}
	}

	item.Key = LineItemKey(item.StockID, item.Customisations)
	return item, nil
}

func (b *LineItemBuilder) runPlugins(ctx context.Context, lctx *LineItemContext, extra domain.ExtraData) error {
	for _, plugin := range b.plugins.PriceModifiers() {
		if err := plugin.ModifyItemPrice(ctx, lctx, extra); err != nil {
			return fmt.Errorf("line item builder: price modifier %q: %w", plugin.Name(), err)
		}
	}
	for _, plugin := range b.plugins.Customisers() {
		if err := plugin.CustomiseLineItem(ctx, lctx, extra); err != nil {
			return fmt.Errorf("line item builder: customiser %q: %w", plugin.Name(), err)
		}
	}
	return nil
}
