package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	row := newOrderRow(order)
	return r.s.RunInTx(ctx, func(ctx context.Context) error {
		return wrapError("orders.insert", r.s.conn(ctx).Create(&row).Error)
	})
}

// Update locks the order row, rewrites its header and replaces the item set.
func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	row := newOrderRow(order)
	items := row.Items
	row.Items = nil
	return r.s.RunInTx(ctx, func(ctx context.Context) error {
		db := r.s.conn(ctx)
		var current orderRow
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Take(&current, "id = ?", order.ID).Error; err != nil {
			return wrapError("orders.update", err)
		}
		if err := db.Omit(clause.Associations).Save(&row).Error; err != nil {
			return wrapError("orders.update", err)
		}
		if err := db.Where("order_id = ?", order.ID).Delete(&lineItemRow{}).Error; err != nil {
			return wrapError("orders.update_items", err)
		}
		if len(items) == 0 {
			return nil
		}
		return wrapError("orders.update_items", db.Create(&items).Error)
	})
}

func (r orderRepository) Delete(ctx context.Context, orderID string) error {
	return r.s.RunInTx(ctx, func(ctx context.Context) error {
		db := r.s.conn(ctx)
		if err := db.Where("order_id = ?", orderID).Delete(&lineItemRow{}).Error; err != nil {
			return wrapError("orders.delete", err)
		}
		result := db.Delete(&orderRow{}, "id = ?", orderID)
		if result.Error != nil {
			return wrapError("orders.delete", result.Error)
		}
		if result.RowsAffected == 0 {
			return repositories.NewNotFound("orders.delete", gorm.ErrRecordNotFound)
		}
		return nil
	})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.get", "id = ?", orderID)
}

func (r orderRepository) FindByRef(ctx context.Context, kind domain.OrderKind, ref int64) (domain.Order, error) {
	return r.findOne(ctx, "orders.by_ref", "kind = ? AND ref = ?", string(kind), ref)
}

func (r orderRepository) FindByAccessKey(ctx context.Context, accessKey string) (domain.Order, error) {
	if accessKey == "" {
		return domain.Order{}, repositories.NewNotFound("orders.by_access_key", errors.New("access key is required"))
	}
	return r.findOne(ctx, "orders.by_access_key", "access_key = ?", accessKey)
}

func (r orderRepository) LastRef(ctx context.Context, kind domain.OrderKind) (int64, error) {
	var last int64
	err := r.s.conn(ctx).Model(&orderRow{}).
		Where("kind = ?", string(kind)).
		Select("COALESCE(MAX(ref), 0)").
		Scan(&last).Error
	return last, wrapError("orders.last_ref", err)
}

func (r orderRepository) RefExists(ctx context.Context, kind domain.OrderKind, ref int64) (bool, error) {
	return r.exists(ctx, "orders.ref_exists", "kind = ? AND ref = ?", string(kind), ref)
}

func (r orderRepository) AccessKeyExists(ctx context.Context, accessKey string) (bool, error) {
	if accessKey == "" {
		return false, nil
	}
	return r.exists(ctx, "orders.access_key_exists", "access_key = ?", accessKey)
}

func (r orderRepository) findOne(ctx context.Context, op string, query string, args ...any) (domain.Order, error) {
	var row orderRow
	err := r.s.conn(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where(query, args...).
		Take(&row).Error
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	return row.toDomain(), nil
}

func (r orderRepository) exists(ctx context.Context, op string, query string, args ...any) (bool, error) {
	var count int64
	if err := r.s.conn(ctx).Model(&orderRow{}).Where(query, args...).Limit(1).Count(&count).Error; err != nil {
		return false, wrapError(op, err)
	}
	return count > 0, nil
}

type stockLedger struct{ s *Store }

// CommittedQuantity sums the quantities held by invoices other than excludeOrderID.
func (l stockLedger) CommittedQuantity(ctx context.Context, stockID string, excludeOrderID string) (int64, error) {
	var total int64
	err := l.s.conn(ctx).Table("order_line_items AS i").
		Joins("JOIN orders o ON o.id = i.order_id").
		Where("o.kind = ? AND i.stock_id = ? AND o.id <> ?", string(domain.OrderKindInvoice), stockID, excludeOrderID).
		Select("COALESCE(SUM(i.quantity), 0)").
		Scan(&total).Error
	return total, wrapError("stock.committed", err)
}
