package services

import (
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/textutil"
)

// PriceModifierPlugin adjusts the unit price of a line item while it is being assembled.
type PriceModifierPlugin interface {
	Name() string
	ModifyItemPrice(ctx context.Context, item *LineItemContext, extra domain.ExtraData) error
}

// CustomiserPlugin attaches descriptive customisations to a line item while it is being
// assembled.
type CustomiserPlugin interface {
	Name() string
	CustomiseLineItem(ctx context.Context, item *LineItemContext, extra domain.ExtraData) error
}

// LineItemPluginRegistry holds the plugins run for every built line item. Plugins run in the
// order they were registered.
type LineItemPluginRegistry struct {
	mu          sync.RWMutex
	pricers     []PriceModifierPlugin
	customisers []CustomiserPlugin
}

// NewLineItemPluginRegistry returns an empty registry.
func NewLineItemPluginRegistry() *LineItemPluginRegistry {
	return &LineItemPluginRegistry{}
}

// RegisterPriceModifier appends a price modifier plugin.
func (r *LineItemPluginRegistry) RegisterPriceModifier(plugin PriceModifierPlugin) {
	if plugin == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pricers = append(r.pricers, plugin)
}

// RegisterCustomiser appends a customiser plugin.
func (r *LineItemPluginRegistry) RegisterCustomiser(plugin CustomiserPlugin) {
	if plugin == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customisers = append(r.customisers, plugin)
}

// PriceModifiers returns a snapshot of the registered price modifiers.
func (r *LineItemPluginRegistry) PriceModifiers() []PriceModifierPlugin {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.pricers)
}

// Customisers returns a snapshot of the registered customisers.
func (r *LineItemPluginRegistry) Customisers() []CustomiserPlugin {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.customisers)
}

// LineItemContext is the view of an in-progress line item handed to plugins. Plugins may read
// the item, product and order, and mutate the item only through AddPriceModifier and
// AddCustomisation.
type LineItemContext struct {
	item      *domain.LineItem
	product   domain.Product
	order     *domain.Order
	customMap []string
	newID     func() string
	cascade   bool
}

// Item returns a copy of the line item as currently assembled.
func (c *LineItemContext) Item() domain.LineItem {
	return c.item.Clone()
}

// Product returns the product the item is built from.
func (c *LineItemContext) Product() domain.Product {
	return c.product
}

// Order returns the order the item is destined for, if known.
func (c *LineItemContext) Order() (domain.Order, bool) {
	if c.order == nil {
		return domain.Order{}, false
	}
	return *c.order, true
}

// AddPriceModifier attaches a per-unit price delta. With a related entity the modifier is
// upserted so that re-running a chain does not stack amounts.
func (c *LineItemContext) AddPriceModifier(name string, amount decimal.Decimal, related *domain.EntityRef) domain.PriceModifier {
	if related != nil {
		for i := range c.item.PriceModifiers {
			if c.item.PriceModifiers[i].Related.Equal(related) {
				c.item.PriceModifiers[i].Name = name
				c.item.PriceModifiers[i].Amount = amount
				return c.item.PriceModifiers[i]
			}
		}
	}

	modifier := domain.PriceModifier{
		ID:      c.newID(),
		Name:    name,
		Amount:  amount,
		Related: cloneEntityRef(related),
	}
	c.item.PriceModifiers = append(c.item.PriceModifiers, modifier)
	return modifier
}

// AddCustomisation attaches a named attribute. An existing customisation with the same related
// entity (or the same title when related is nil) is replaced in place. Extra data is reduced
// to the configured allow-list; any non-empty extra data schedules one more plugin pass.
func (c *LineItemContext) AddCustomisation(title, value string, extra map[string]string, related *domain.EntityRef) domain.Customisation {
	customisation := domain.Customisation{
		Title:   title,
		Value:   value,
		Extra:   c.mapExtra(extra),
		Related: cloneEntityRef(related),
	}
	if len(extra) > 0 {
		c.cascade = true
	}

	for i := range c.item.Customisations {
		existing := c.item.Customisations[i]
		if (related != nil && existing.Related.Equal(related)) || (related == nil && existing.Related == nil && existing.Title == title) {
			customisation.ID = existing.ID
			c.item.Customisations[i] = customisation
			return customisation
		}
	}

	customisation.ID = c.newID()
	c.item.Customisations = append(c.item.Customisations, customisation)
	return customisation
}

func (c *LineItemContext) mapExtra(extra map[string]string) map[string]string {
	if len(c.customMap) == 0 {
		return nil
	}
	return textutil.NormalizeStringMap(extra, c.customMap...)
}

func cloneEntityRef(ref *domain.EntityRef) *domain.EntityRef {
	if ref == nil {
		return nil
	}
	copied := *ref
	return &copied
}
