// Package plugins contains the line item plugins bundled with the orders service.
package plugins

import (
	"context"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

const optionGroupClass = "option_group"

// ProductOptions prices and describes the option groups a product offers. Extra data maps an
// option group ID to the chosen option ID; unknown groups or options are ignored.
type ProductOptions struct{}

var (
	_ services.PriceModifierPlugin = ProductOptions{}
	_ services.CustomiserPlugin    = ProductOptions{}
)

// Name identifies the plugin in errors and logs.
func (ProductOptions) Name() string { return "product_options" }

// ModifyItemPrice adds one price modifier per selected option.
func (p ProductOptions) ModifyItemPrice(_ context.Context, item *services.LineItemContext, extra domain.ExtraData) error {
	for _, sel := range selectedOptions(item.Product(), extra) {
		item.AddPriceModifier(sel.group.Title, sel.option.ModifyPrice, groupRef(sel.group))
	}
	return nil
}

// CustomiseLineItem adds one customisation per selected option.
func (p ProductOptions) CustomiseLineItem(_ context.Context, item *services.LineItemContext, extra domain.ExtraData) error {
	for _, sel := range selectedOptions(item.Product(), extra) {
		item.AddCustomisation(sel.group.Title, sel.option.Title, nil, groupRef(sel.group))
	}
	return nil
}

type selection struct {
	group  domain.OptionGroup
	option domain.Option
}

// selectedOptions returns the chosen options in the product's group order.
func selectedOptions(product domain.Product, extra domain.ExtraData) []selection {
	if extra.IsEmpty() {
		return nil
	}
	var out []selection
	for _, group := range product.OptionGroups {
		optionID, ok := extra.String(group.ID)
		if !ok {
			continue
		}
		option, ok := group.FindOption(optionID)
		if !ok {
			continue
		}
		out = append(out, selection{group: group, option: option})
	}
	return out
}

func groupRef(group domain.OptionGroup) *domain.EntityRef {
	return &domain.EntityRef{Class: optionGroupClass, ID: group.ID}
}
