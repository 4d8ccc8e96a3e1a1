package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Money is stored as decimal strings so no precision is lost to float64.

type addressDocument struct {
	Company    string `firestore:"company,omitempty"`
	FirstName  string `firestore:"firstName,omitempty"`
	Surname    string `firestore:"surname,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	Region     string `firestore:"region,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

type personalDocument struct {
	Company   string `firestore:"company,omitempty"`
	FirstName string `firestore:"firstName,omitempty"`
	Surname   string `firestore:"surname,omitempty"`
	Email     string `firestore:"email,omitempty"`
	Phone     string `firestore:"phone,omitempty"`
}

type entityRefDocument struct {
	Class string `firestore:"class"`
	ID    string `firestore:"id"`
}

type priceModifierDocument struct {
	ID      string             `firestore:"id"`
	Name    string             `firestore:"name"`
	Amount  string             `firestore:"amount"`
	Related *entityRefDocument `firestore:"related,omitempty"`
}

type customisationDocument struct {
	ID      string             `firestore:"id"`
	Title   string             `firestore:"title"`
	Value   string             `firestore:"value"`
	Extra   map[string]string  `firestore:"extra,omitempty"`
	Related *entityRefDocument `firestore:"related,omitempty"`
}

type lineItemDocument struct {
	ID              string                  `firestore:"id"`
	Key             string                  `firestore:"key"`
	Title           string                  `firestore:"title"`
	StockID         string                  `firestore:"stockId"`
	UnmodifiedPrice string                  `firestore:"unmodifiedPrice"`
	TaxRateID       int64                   `firestore:"taxRateId"`
	TaxRate         string                  `firestore:"taxRate"`
	TaxRateTitle    string                  `firestore:"taxRateTitle,omitempty"`
	Quantity        int                     `firestore:"quantity"`
	Weight          string                  `firestore:"weight"`
	Stocked         bool                    `firestore:"stocked"`
	Deliverable     bool                    `firestore:"deliverable"`
	Locked          bool                    `firestore:"locked"`
	ProductClass    string                  `firestore:"productClass"`
	ProductID       string                  `firestore:"productId"`
	ProductVersion  int64                   `firestore:"productVersion"`
	PriceModifiers  []priceModifierDocument `firestore:"priceModifiers,omitempty"`
	Customisations  []customisationDocument `firestore:"customisations,omitempty"`
}

type orderDocument struct {
	Kind            string             `firestore:"kind"`
	Ref             int64              `firestore:"-"`
	Prefix          string             `firestore:"prefix"`
	AccessKey       string             `firestore:"accessKey"`
	CustomerID      string             `firestore:"customerId,omitempty"`
	Personal        personalDocument   `firestore:"personal"`
	Billing         addressDocument    `firestore:"billing"`
	Delivery        addressDocument    `firestore:"delivery"`
	StartDate       *time.Time         `firestore:"startDate,omitempty"`
	EndDate         *time.Time         `firestore:"endDate,omitempty"`
	DisableNegative bool               `firestore:"disableNegative"`
	Items           []lineItemDocument `firestore:"items"`
	StockIDs        []string           `firestore:"stockIds"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

type optionDocument struct {
	ID          string `firestore:"id"`
	Title       string `firestore:"title"`
	ModifyPrice string `firestore:"modifyPrice"`
}

type optionGroupDocument struct {
	ID      string           `firestore:"id"`
	Title   string           `firestore:"title"`
	Options []optionDocument `firestore:"options"`
}

type taxZoneDocument struct {
	Country string   `firestore:"country"`
	Regions []string `firestore:"regions,omitempty"`
}

type taxRateDocument struct {
	ID    int64             `firestore:"id"`
	Title string            `firestore:"title"`
	Rate  string            `firestore:"rate"`
	Zones []taxZoneDocument `firestore:"zones,omitempty"`
}

type productDocument struct {
	Class          string                `firestore:"class"`
	Version        int64                 `firestore:"version"`
	Title          string                `firestore:"title"`
	BasePrice      *string               `firestore:"basePrice"`
	StockID        string                `firestore:"stockId"`
	Stocked        bool                  `firestore:"stocked"`
	StockLevel     int64                 `firestore:"stockLevel"`
	Deliverable    bool                  `firestore:"deliverable"`
	Weight         string                `firestore:"weight"`
	TaxCategoryID  string                `firestore:"taxCategoryId,omitempty"`
	DefaultTaxRate *taxRateDocument      `firestore:"defaultTaxRate,omitempty"`
	OptionGroups   []optionGroupDocument `firestore:"optionGroups,omitempty"`
	Attributes     map[string]any        `firestore:"attributes,omitempty"`
	UpdatedAt      time.Time             `firestore:"updatedAt"`
}

type taxCategoryDocument struct {
	Title string            `firestore:"title"`
	Rates []taxRateDocument `firestore:"rates"`
}

type contactDocument struct {
	Personal       personalDocument `firestore:"personal"`
	DefaultAddress *addressDocument `firestore:"defaultAddress,omitempty"`
}

type reservationDocument struct {
	OrderID    string    `firestore:"orderId"`
	ReservedAt time.Time `firestore:"reservedAt"`
}

// fields renders the document as a map so the reference can be stored under the
// configured field name.
func (d orderDocument) fields(refField string) map[string]any {
	out := map[string]any{
		"kind":            d.Kind,
		refField:          d.Ref,
		"prefix":          d.Prefix,
		"accessKey":       d.AccessKey,
		"personal":        d.Personal,
		"billing":         d.Billing,
		"delivery":        d.Delivery,
		"disableNegative": d.DisableNegative,
		"items":           d.Items,
		"stockIds":        d.StockIDs,
		"createdAt":       d.CreatedAt,
		"updatedAt":       d.UpdatedAt,
	}
	if d.CustomerID != "" {
		out["customerId"] = d.CustomerID
	}
	if d.StartDate != nil {
		out["startDate"] = *d.StartDate
	}
	if d.EndDate != nil {
		out["endDate"] = *d.EndDate
	}
	return out
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Kind:            string(order.Kind),
		Ref:             order.Ref,
		Prefix:          order.Prefix,
		AccessKey:       order.AccessKey,
		CustomerID:      order.CustomerID,
		Personal:        personalDocument(order.Personal),
		Billing:         addressDocument(order.Billing),
		Delivery:        addressDocument(order.Delivery),
		StartDate:       utcPtr(order.StartDate),
		EndDate:         utcPtr(order.EndDate),
		DisableNegative: order.DisableNegative,
		Items:           make([]lineItemDocument, 0, len(order.Items)),
		StockIDs:        []string{},
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	seen := make(map[string]struct{}, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, newLineItemDocument(item))
		if item.StockID == "" {
			continue
		}
		if _, ok := seen[item.StockID]; !ok {
			seen[item.StockID] = struct{}{}
			doc.StockIDs = append(doc.StockIDs, item.StockID)
		}
	}
	return doc
}

func newLineItemDocument(item domain.LineItem) lineItemDocument {
	doc := lineItemDocument{
		ID:              item.ID,
		Key:             item.Key,
		Title:           item.Title,
		StockID:         item.StockID,
		UnmodifiedPrice: item.UnmodifiedPrice.String(),
		TaxRateID:       item.TaxRateID,
		TaxRate:         item.TaxRate.String(),
		TaxRateTitle:    item.TaxRateTitle,
		Quantity:        item.Quantity,
		Weight:          item.Weight.String(),
		Stocked:         item.Stocked,
		Deliverable:     item.Deliverable,
		Locked:          item.Locked,
		ProductClass:    item.ProductClass,
		ProductID:       item.ProductID,
		ProductVersion:  item.ProductVersion,
	}
	for _, modifier := range item.PriceModifiers {
		doc.PriceModifiers = append(doc.PriceModifiers, priceModifierDocument{
			ID:      modifier.ID,
			Name:    modifier.Name,
			Amount:  modifier.Amount.String(),
			Related: newEntityRefDocument(modifier.Related),
		})
	}
	for _, customisation := range item.Customisations {
		doc.Customisations = append(doc.Customisations, customisationDocument{
			ID:      customisation.ID,
			Title:   customisation.Title,
			Value:   customisation.Value,
			Extra:   customisation.Extra,
			Related: newEntityRefDocument(customisation.Related),
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	order := domain.Order{
		ID:              id,
		Kind:            domain.OrderKind(d.Kind),
		Ref:             d.Ref,
		Prefix:          d.Prefix,
		AccessKey:       d.AccessKey,
		CustomerID:      d.CustomerID,
		Personal:        domain.PersonalDetails(d.Personal),
		Billing:         domain.Address(d.Billing),
		Delivery:        domain.Address(d.Delivery),
		StartDate:       utcPtr(d.StartDate),
		EndDate:         utcPtr(d.EndDate),
		DisableNegative: d.DisableNegative,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	for _, itemDoc := range d.Items {
		item, err := itemDoc.toDomain()
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s: %w", id, err)
		}
		order.Items = append(order.Items, item)
	}
	return order, nil
}

func (d lineItemDocument) toDomain() (domain.LineItem, error) {
	unmodified, err := parseDecimal(d.UnmodifiedPrice)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("item %s price: %w", d.ID, err)
	}
	rate, err := parseDecimal(d.TaxRate)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("item %s tax rate: %w", d.ID, err)
	}
	weight, err := parseDecimal(d.Weight)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("item %s weight: %w", d.ID, err)
	}
	item := domain.LineItem{
		ID:              d.ID,
		Key:             d.Key,
		Title:           d.Title,
		StockID:         d.StockID,
		UnmodifiedPrice: unmodified,
		TaxRateID:       d.TaxRateID,
		TaxRate:         rate,
		TaxRateTitle:    d.TaxRateTitle,
		Quantity:        d.Quantity,
		Weight:          weight,
		Stocked:         d.Stocked,
		Deliverable:     d.Deliverable,
		Locked:          d.Locked,
		ProductClass:    d.ProductClass,
		ProductID:       d.ProductID,
		ProductVersion:  d.ProductVersion,
	}
	for _, m := range d.PriceModifiers {
		amount, err := parseDecimal(m.Amount)
		if err != nil {
			return domain.LineItem{}, fmt.Errorf("modifier %s amount: %w", m.ID, err)
		}
		item.PriceModifiers = append(item.PriceModifiers, domain.PriceModifier{
			ID:      m.ID,
			Name:    m.Name,
			Amount:  amount,
			Related: m.Related.toDomain(),
		})
	}
	for _, c := range d.Customisations {
		item.Customisations = append(item.Customisations, domain.Customisation{
			ID:      c.ID,
			Title:   c.Title,
			Value:   c.Value,
			Extra:   c.Extra,
			Related: c.Related.toDomain(),
		})
	}
	return item, nil
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	weight, err := parseDecimal(d.Weight)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s weight: %w", id, err)
	}
	product := domain.Product{
		ID:            id,
		Class:         d.Class,
		Version:       d.Version,
		Title:         d.Title,
		StockID:       d.StockID,
		Stocked:       d.Stocked,
		StockLevel:    d.StockLevel,
		Deliverable:   d.Deliverable,
		Weight:        weight,
		TaxCategoryID: d.TaxCategoryID,
		Attributes:    d.Attributes,
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.BasePrice != nil {
		price, err := decimal.NewFromString(*d.BasePrice)
		if err != nil {
			return domain.Product{}, fmt.Errorf("product %s base price: %w", id, err)
		}
		product.BasePrice = &price
	}
	if d.DefaultTaxRate != nil {
		rate, err := d.DefaultTaxRate.toDomain()
		if err != nil {
			return domain.Product{}, fmt.Errorf("product %s: %w", id, err)
		}
		product.DefaultTaxRate = &rate
	}
	for _, g := range d.OptionGroups {
		group := domain.OptionGroup{ID: g.ID, Title: g.Title}
		for _, o := range g.Options {
			modify, err := parseDecimal(o.ModifyPrice)
			if err != nil {
				return domain.Product{}, fmt.Errorf("product %s option %s: %w", id, o.ID, err)
			}
			group.Options = append(group.Options, domain.Option{ID: o.ID, Title: o.Title, ModifyPrice: modify})
		}
		product.OptionGroups = append(product.OptionGroups, group)
	}
	return product, nil
}

func newProductDocument(product domain.Product) productDocument {
	doc := productDocument{
		Class:         product.Class,
		Version:       product.Version,
		Title:         product.Title,
		StockID:       product.StockID,
		Stocked:       product.Stocked,
		StockLevel:    product.StockLevel,
		Deliverable:   product.Deliverable,
		Weight:        product.Weight.String(),
		TaxCategoryID: product.TaxCategoryID,
		Attributes:    product.Attributes,
		UpdatedAt:     product.UpdatedAt.UTC(),
	}
	if product.BasePrice != nil {
		price := product.BasePrice.String()
		doc.BasePrice = &price
	}
	if product.DefaultTaxRate != nil {
		rate := newTaxRateDocument(*product.DefaultTaxRate)
		doc.DefaultTaxRate = &rate
	}
	for _, g := range product.OptionGroups {
		group := optionGroupDocument{ID: g.ID, Title: g.Title}
		for _, o := range g.Options {
			group.Options = append(group.Options, optionDocument{ID: o.ID, Title: o.Title, ModifyPrice: o.ModifyPrice.String()})
		}
		doc.OptionGroups = append(doc.OptionGroups, group)
	}
	return doc
}

func newTaxRateDocument(rate domain.TaxRate) taxRateDocument {
	doc := taxRateDocument{ID: rate.ID, Title: rate.Title, Rate: rate.Rate.String()}
	for _, zone := range rate.Zones {
		doc.Zones = append(doc.Zones, taxZoneDocument(zone))
	}
	return doc
}

func (d taxRateDocument) toDomain() (domain.TaxRate, error) {
	rate, err := parseDecimal(d.Rate)
	if err != nil {
		return domain.TaxRate{}, fmt.Errorf("tax rate %d: %w", d.ID, err)
	}
	out := domain.TaxRate{ID: d.ID, Title: d.Title, Rate: rate}
	for _, zone := range d.Zones {
		out.Zones = append(out.Zones, domain.TaxZone(zone))
	}
	return out, nil
}

func (d taxCategoryDocument) toDomain(id string) (domain.TaxCategory, error) {
	category := domain.TaxCategory{ID: id, Title: d.Title}
	for _, r := range d.Rates {
		rate, err := r.toDomain()
		if err != nil {
			return domain.TaxCategory{}, fmt.Errorf("tax category %s: %w", id, err)
		}
		category.Rates = append(category.Rates, rate)
	}
	return category, nil
}

func (d contactDocument) toDomain(id string) domain.Contact {
	contact := domain.Contact{ID: id, Personal: domain.PersonalDetails(d.Personal)}
	if d.DefaultAddress != nil {
		address := domain.Address(*d.DefaultAddress)
		contact.DefaultAddress = &address
	}
	return contact
}

func newEntityRefDocument(ref *domain.EntityRef) *entityRefDocument {
	if ref == nil {
		return nil
	}
	return &entityRefDocument{Class: ref.Class, ID: ref.ID}
}

func (d *entityRefDocument) toDomain() *domain.EntityRef {
	if d == nil {
		return nil
	}
	return &domain.EntityRef{Class: d.Class, ID: d.ID}
}

func parseDecimal(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
