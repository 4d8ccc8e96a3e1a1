package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/hanko-field/orders/internal/repositories"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, notFound: true},
		{name: "translated duplicate", err: gorm.ErrDuplicatedKey, conflict: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, conflict: true},
		{name: "serialization failure", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), conflict: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := wrapError("orders.insert", tc.err)
			if repositories.IsNotFound(err) != tc.notFound ||
				repositories.IsConflict(err) != tc.conflict ||
				repositories.IsUnavailable(err) != tc.unavailable {
				t.Fatalf("unexpected classification for %v: %v", tc.err, err)
			}
		})
	}
}

func TestWrapErrorPassthrough(t *testing.T) {
	if err := wrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}

	existing := repositories.NewConflict("inner", errors.New("taken"))
	if err := wrapError("outer", existing); err != existing {
		t.Fatalf("expected repository error to be returned unchanged, got %v", err)
	}

	plain := errors.New("syntax error")
	err := wrapError("orders.get", plain)
	if !errors.Is(err, plain) {
		t.Fatalf("expected wrapped error to keep cause")
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		t.Fatalf("expected unclassified error, got %v", repoErr)
	}
	if wrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}
