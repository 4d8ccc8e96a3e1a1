package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hanko-field/orders/internal/repositories"
)

type txKey struct{}

// Store exposes the PostgreSQL repositories behind repositories.Registry.
type Store struct {
	db     *gorm.DB
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore wraps an open connection.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres store requires db")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	health, err := repositories.NewProbeHealth([]repositories.Probe{{
		Name:    "postgres",
		Timeout: 2 * time.Second,
		Ping:    sqlDB.PingContext,
	}}, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{db: db, health: health}, nil
}

func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }

func (s *Store) Products() repositories.ProductRepository { return ProductRepository{s} }

// ProductStore exposes the writable product repository for seeding.
func (s *Store) ProductStore() ProductRepository { return ProductRepository{s} }

func (s *Store) TaxCategories() repositories.TaxCategoryRepository { return TaxCategoryRepository{s} }

// TaxCategoryStore exposes the writable tax category repository for seeding.
func (s *Store) TaxCategoryStore() TaxCategoryRepository { return TaxCategoryRepository{s} }

func (s *Store) Contacts() repositories.ContactRepository { return ContactRepository{s} }

// ContactStore exposes the writable contact repository for seeding.
func (s *Store) ContactStore() ContactRepository { return ContactRepository{s} }

func (s *Store) StockLedger() repositories.StockLedger { return stockLedger{s} }

func (s *Store) Health() repositories.HealthRepository { return s.health }

// RunInTx runs fn in a database transaction carried by the context. Nested calls join the
// outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is required")
	}
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(context.WithValue(ctx, txKey{}, tx))
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return wrapError("transaction.commit", err)
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}
