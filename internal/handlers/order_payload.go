package handlers

import (
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type addressPayload struct {
	Company    string `json:"company,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	Surname    string `json:"surname,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type personalPayload struct {
	Company   string `json:"company,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	Surname   string `json:"surname,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type priceModifierPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type customisationPayload struct {
	ID    string            `json:"id"`
	Title string            `json:"title"`
	Value string            `json:"value"`
	Extra map[string]string `json:"extra,omitempty"`
}

type lineItemPayload struct {
	ID              string                 `json:"id"`
	Key             string                 `json:"key"`
	Title           string                 `json:"title"`
	StockID         string                 `json:"stockId,omitempty"`
	ProductID       string                 `json:"productId,omitempty"`
	ProductVersion  int64                  `json:"productVersion,omitempty"`
	Quantity        int                    `json:"quantity"`
	UnmodifiedPrice string                 `json:"unmodifiedPrice"`
	UnitPrice       string                 `json:"unitPrice"`
	UnitTax         string                 `json:"unitTax"`
	SubTotal        string                 `json:"subTotal"`
	TaxTotal        string                 `json:"taxTotal"`
	Total           string                 `json:"total"`
	TaxRateID       int64                  `json:"taxRateId"`
	TaxRate         string                 `json:"taxRate"`
	TaxRateTitle    string                 `json:"taxRateTitle,omitempty"`
	Weight          string                 `json:"weight"`
	Locked          bool                   `json:"locked"`
	Deliverable     bool                   `json:"deliverable"`
	PriceModifiers  []priceModifierPayload `json:"priceModifiers,omitempty"`
	Customisations  []customisationPayload `json:"customisations,omitempty"`
}

type taxPayload struct {
	RateID int64  `json:"rateId"`
	Title  string `json:"title,omitempty"`
	Rate   string `json:"rate"`
	Total  string `json:"total"`
}

type orderPayload struct {
	ID              string            `json:"id"`
	Kind            string            `json:"kind"`
	Ref             int64             `json:"ref"`
	FullRef         string            `json:"fullRef"`
	AccessKey       string            `json:"accessKey,omitempty"`
	CustomerID      string            `json:"customerId,omitempty"`
	Personal        personalPayload   `json:"personal"`
	Billing         addressPayload    `json:"billing"`
	Delivery        addressPayload    `json:"delivery"`
	StartDate       string            `json:"startDate,omitempty"`
	EndDate         string            `json:"endDate,omitempty"`
	DisableNegative bool              `json:"disableNegative"`
	Items           []lineItemPayload `json:"items"`
	Taxes           []taxPayload      `json:"taxes"`
	TotalItems      int               `json:"totalItems"`
	TotalWeight     string            `json:"totalWeight"`
	SubTotal        string            `json:"subTotal"`
	TaxTotal        string            `json:"taxTotal"`
	Total           string            `json:"total"`
	Deliverable     bool              `json:"deliverable"`
	Locked          bool              `json:"locked"`
	CreatedAt       string            `json:"createdAt,omitempty"`
	UpdatedAt       string            `json:"updatedAt,omitempty"`
}

type fixedDecimal interface {
	StringFixed(places int32) string
}

func money(v fixedDecimal) string {
	return v.StringFixed(domain.MoneyPrecision)
}

// buildOrderPayload renders the order with computed totals. The access key and customer ID
// are left out of public views.
func (h *OrderHandlers) buildOrderPayload(order domain.Order, private bool) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Kind:            string(order.Kind),
		Ref:             order.Ref,
		FullRef:         order.FullRef(h.orders.Settings().RefLength),
		Personal:        personalPayload(order.Personal),
		Billing:         addressPayload(order.Billing),
		Delivery:        addressPayload(order.Delivery),
		StartDate:       formatDate(order.StartDate),
		EndDate:         formatDate(order.EndDate),
		DisableNegative: order.DisableNegative,
		Items:           make([]lineItemPayload, 0, len(order.Items)),
		Taxes:           make([]taxPayload, 0),
		TotalItems:      order.TotalItems(),
		TotalWeight:     money(order.TotalWeight()),
		SubTotal:        money(order.SubTotal()),
		TaxTotal:        money(order.TaxTotal()),
		Total:           money(order.Total()),
		Deliverable:     order.IsDeliverable(),
		Locked:          len(order.Items) > 0 && order.IsLocked(),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if private {
		payload.AccessKey = order.AccessKey
		payload.CustomerID = order.CustomerID
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, buildLineItemPayload(item))
	}
	for _, tax := range order.TaxList() {
		payload.Taxes = append(payload.Taxes, taxPayload{
			RateID: tax.RateID,
			Title:  tax.Title,
			Rate:   tax.Rate.String(),
			Total:  money(tax.Total),
		})
	}
	return payload
}

func buildLineItemPayload(item domain.LineItem) lineItemPayload {
	payload := lineItemPayload{
		ID:              item.ID,
		Key:             item.Key,
		Title:           item.Title,
		StockID:         item.StockID,
		ProductID:       item.ProductID,
		ProductVersion:  item.ProductVersion,
		Quantity:        item.Quantity,
		UnmodifiedPrice: money(item.UnmodifiedPrice),
		UnitPrice:       money(item.UnitPrice()),
		UnitTax:         money(item.UnitTax()),
		SubTotal:        money(item.SubTotal()),
		TaxTotal:        money(item.TaxTotal()),
		Total:           money(item.Total()),
		TaxRateID:       item.TaxRateID,
		TaxRate:         item.TaxRate.String(),
		TaxRateTitle:    item.TaxRateTitle,
		Weight:          item.Weight.String(),
		Locked:          item.Locked,
		Deliverable:     item.Deliverable,
	}
	for _, modifier := range item.PriceModifiers {
		payload.PriceModifiers = append(payload.PriceModifiers, priceModifierPayload{
			ID:     modifier.ID,
			Name:   modifier.Name,
			Amount: money(modifier.Amount),
		})
	}
	for _, customisation := range item.Customisations {
		payload.Customisations = append(payload.Customisations, customisationPayload{
			ID:    customisation.ID,
			Title: customisation.Title,
			Value: customisation.Value,
			Extra: customisation.Extra,
		})
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
