package memory

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; exists {
		return repositories.NewConflict("orders.insert", fmt.Errorf("order %q already exists", order.ID))
	}
	if err := r.s.checkUnique(order); err != nil {
		return err
	}
	r.s.orders[order.ID] = order.Clone()
	return nil
}

func (r orderRepository) Update(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; !exists {
		return repositories.NewNotFound("orders.update", fmt.Errorf("order %q not found", order.ID))
	}
	if err := r.s.checkUnique(order); err != nil {
		return err
	}
	r.s.orders[order.ID] = order.Clone()
	return nil
}

func (r orderRepository) Delete(_ context.Context, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[orderID]; !exists {
		return repositories.NewNotFound("orders.delete", fmt.Errorf("order %q not found", orderID))
	}
	delete(r.s.orders, orderID)
	return nil
}

func (r orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.get", fmt.Errorf("order %q not found", orderID))
	}
	return order.Clone(), nil
}

func (r orderRepository) FindByRef(_ context.Context, kind domain.OrderKind, ref int64) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, order := range r.s.orders {
		if order.Kind == kind && order.Ref == ref {
			return order.Clone(), nil
		}
	}
	return domain.Order{}, repositories.NewNotFound("orders.by_ref", fmt.Errorf("%s %d not found", kind, ref))
}

func (r orderRepository) FindByAccessKey(_ context.Context, accessKey string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, order := range r.s.orders {
		if order.AccessKey == accessKey {
			return order.Clone(), nil
		}
	}
	return domain.Order{}, repositories.NewNotFound("orders.by_access_key", errors.New("access key not found"))
}

func (r orderRepository) LastRef(_ context.Context, kind domain.OrderKind) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var last int64
	for _, order := range r.s.orders {
		if order.Kind == kind && order.Ref > last {
			last = order.Ref
		}
	}
	return last, nil
}

func (r orderRepository) RefExists(_ context.Context, kind domain.OrderKind, ref int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, order := range r.s.orders {
		if order.Kind == kind && order.Ref == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r orderRepository) AccessKeyExists(_ context.Context, accessKey string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, order := range r.s.orders {
		if order.AccessKey == accessKey {
			return true, nil
		}
	}
	return false, nil
}

// checkUnique must be called with s.mu held.
func (s *Store) checkUnique(order domain.Order) error {
	for id, existing := range s.orders {
		if id == order.ID {
			continue
		}
		if order.Ref != 0 && existing.Kind == order.Kind && existing.Ref == order.Ref {
			return repositories.NewConflict("orders.write", fmt.Errorf("%s reference %d already allocated", order.Kind, order.Ref))
		}
		if order.AccessKey != "" && existing.AccessKey == order.AccessKey {
			return repositories.NewConflict("orders.write", errors.New("access key already allocated"))
		}
	}
	return nil
}
