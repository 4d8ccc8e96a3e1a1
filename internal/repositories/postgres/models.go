package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
)

type orderRow struct {
	ID              string                 `gorm:"primaryKey;size:32"`
	Kind            string                 `gorm:"size:16;not null;uniqueIndex:idx_orders_kind_ref,priority:1"`
	Ref             *int64                 `gorm:"uniqueIndex:idx_orders_kind_ref,priority:2"`
	Prefix          string                 `gorm:"size:16"`
	AccessKey       *string                `gorm:"size:64;uniqueIndex:idx_orders_access_key"`
	CustomerID      string                 `gorm:"size:64"`
	Personal        domain.PersonalDetails `gorm:"serializer:json;type:jsonb"`
	Billing         domain.Address         `gorm:"serializer:json;type:jsonb"`
	Delivery        domain.Address         `gorm:"serializer:json;type:jsonb"`
	StartDate       *time.Time
	EndDate         *time.Time
	DisableNegative bool          `gorm:"not null;default:false"`
	Items           []lineItemRow `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (orderRow) TableName() string { return "orders" }

type lineItemRow struct {
	ID              string                 `gorm:"primaryKey;size:32"`
	OrderID         string                 `gorm:"size:32;not null;index"`
	Position        int                    `gorm:"not null"`
	Key             string                 `gorm:"column:item_key;not null"`
	Title           string                 `gorm:"not null"`
	StockID         string                 `gorm:"size:128;index"`
	UnmodifiedPrice decimal.Decimal        `gorm:"type:numeric(20,4);not null"`
	TaxRateID       int64                  `gorm:"not null"`
	TaxRate         decimal.Decimal        `gorm:"type:numeric(9,4);not null"`
	TaxRateTitle    string                 `gorm:"size:128"`
	Quantity        int                    `gorm:"not null"`
	Weight          decimal.Decimal        `gorm:"type:numeric(20,4);not null"`
	Stocked         bool                   `gorm:"not null"`
	Deliverable     bool                   `gorm:"not null"`
	Locked          bool                   `gorm:"not null"`
	ProductClass    string                 `gorm:"size:64"`
	ProductID       string                 `gorm:"size:64"`
	ProductVersion  int64                  `gorm:"not null"`
	PriceModifiers  []domain.PriceModifier `gorm:"serializer:json;type:jsonb"`
	Customisations  []domain.Customisation `gorm:"serializer:json;type:jsonb"`
}

func (lineItemRow) TableName() string { return "order_line_items" }

type productRow struct {
	ID             string               `gorm:"primaryKey;size:64"`
	Version        int64                `gorm:"primaryKey"`
	Class          string               `gorm:"size:64"`
	Title          string               `gorm:"not null"`
	BasePrice      *decimal.Decimal     `gorm:"type:numeric(20,4)"`
	StockID        string               `gorm:"size:128"`
	Stocked        bool                 `gorm:"not null"`
	StockLevel     int64                `gorm:"not null"`
	Deliverable    bool                 `gorm:"not null"`
	Weight         decimal.Decimal      `gorm:"type:numeric(20,4);not null"`
	TaxCategoryID  string               `gorm:"size:64"`
	DefaultTaxRate *domain.TaxRate      `gorm:"serializer:json;type:jsonb"`
	OptionGroups   []domain.OptionGroup `gorm:"serializer:json;type:jsonb"`
	Attributes     map[string]any       `gorm:"serializer:json;type:jsonb"`
	UpdatedAt      time.Time
}

func (productRow) TableName() string { return "products" }

type taxCategoryRow struct {
	ID    string           `gorm:"primaryKey;size:64"`
	Title string           `gorm:"not null"`
	Rates []domain.TaxRate `gorm:"serializer:json;type:jsonb"`
}

func (taxCategoryRow) TableName() string { return "tax_categories" }

type contactRow struct {
	ID             string                 `gorm:"primaryKey;size:64"`
	Personal       domain.PersonalDetails `gorm:"serializer:json;type:jsonb"`
	DefaultAddress *domain.Address        `gorm:"serializer:json;type:jsonb"`
}

func (contactRow) TableName() string { return "contacts" }

// newOrderRow stores zero references and empty access keys as NULL so the unique indexes
// ignore orders that have not been allocated one yet.
func newOrderRow(order domain.Order) orderRow {
	row := orderRow{
		ID:              order.ID,
		Kind:            string(order.Kind),
		Prefix:          order.Prefix,
		CustomerID:      order.CustomerID,
		Personal:        order.Personal,
		Billing:         order.Billing,
		Delivery:        order.Delivery,
		StartDate:       order.StartDate,
		EndDate:         order.EndDate,
		DisableNegative: order.DisableNegative,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.Ref != 0 {
		ref := order.Ref
		row.Ref = &ref
	}
	if order.AccessKey != "" {
		key := order.AccessKey
		row.AccessKey = &key
	}
	row.Items = make([]lineItemRow, 0, len(order.Items))
	for i, item := range order.Items {
		row.Items = append(row.Items, lineItemRow{
			ID:              item.ID,
			OrderID:         order.ID,
			Position:        i,
			Key:             item.Key,
			Title:           item.Title,
			StockID:         item.StockID,
			UnmodifiedPrice: item.UnmodifiedPrice,
			TaxRateID:       item.TaxRateID,
			TaxRate:         item.TaxRate,
			TaxRateTitle:    item.TaxRateTitle,
			Quantity:        item.Quantity,
			Weight:          item.Weight,
			Stocked:         item.Stocked,
			Deliverable:     item.Deliverable,
			Locked:          item.Locked,
			ProductClass:    item.ProductClass,
			ProductID:       item.ProductID,
			ProductVersion:  item.ProductVersion,
			PriceModifiers:  item.PriceModifiers,
			Customisations:  item.Customisations,
		})
	}
	return row
}

func (r orderRow) toDomain() domain.Order {
	order := domain.Order{
		ID:              r.ID,
		Kind:            domain.OrderKind(r.Kind),
		Prefix:          r.Prefix,
		CustomerID:      r.CustomerID,
		Personal:        r.Personal,
		Billing:         r.Billing,
		Delivery:        r.Delivery,
		StartDate:       utcPtr(r.StartDate),
		EndDate:         utcPtr(r.EndDate),
		DisableNegative: r.DisableNegative,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.Ref != nil {
		order.Ref = *r.Ref
	}
	if r.AccessKey != nil {
		order.AccessKey = *r.AccessKey
	}
	for _, item := range r.Items {
		order.Items = append(order.Items, domain.LineItem{
			ID:              item.ID,
			Key:             item.Key,
			Title:           item.Title,
			StockID:         item.StockID,
			UnmodifiedPrice: item.UnmodifiedPrice,
			TaxRateID:       item.TaxRateID,
			TaxRate:         item.TaxRate,
			TaxRateTitle:    item.TaxRateTitle,
			Quantity:        item.Quantity,
			Weight:          item.Weight,
			Stocked:         item.Stocked,
			Deliverable:     item.Deliverable,
			Locked:          item.Locked,
			ProductClass:    item.ProductClass,
			ProductID:       item.ProductID,
			ProductVersion:  item.ProductVersion,
			PriceModifiers:  item.PriceModifiers,
			Customisations:  item.Customisations,
		})
	}
	return order
}

func newProductRow(product domain.Product) productRow {
	return productRow{
		ID:             product.ID,
		Version:        product.Version,
		Class:          product.Class,
		Title:          product.Title,
		BasePrice:      product.BasePrice,
		StockID:        product.StockID,
		Stocked:        product.Stocked,
		StockLevel:     product.StockLevel,
		Deliverable:    product.Deliverable,
		Weight:         product.Weight,
		TaxCategoryID:  product.TaxCategoryID,
		DefaultTaxRate: product.DefaultTaxRate,
		OptionGroups:   product.OptionGroups,
		Attributes:     product.Attributes,
		UpdatedAt:      product.UpdatedAt.UTC(),
	}
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:             r.ID,
		Class:          r.Class,
		Version:        r.Version,
		Title:          r.Title,
		BasePrice:      r.BasePrice,
		StockID:        r.StockID,
		Stocked:        r.Stocked,
		StockLevel:     r.StockLevel,
		Deliverable:    r.Deliverable,
		Weight:         r.Weight,
		TaxCategoryID:  r.TaxCategoryID,
		DefaultTaxRate: r.DefaultTaxRate,
		OptionGroups:   r.OptionGroups,
		Attributes:     r.Attributes,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
