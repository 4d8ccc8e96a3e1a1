package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/hanko-field/orders/internal/repositories"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// wrapError classifies gorm and driver errors into repository semantics. Context
// cancellations are passed through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repositories.NewNotFound(op, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repositories.NewConflict(op, err)
	case errors.Is(err, driver.ErrBadConn):
		return repositories.NewUnavailable(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation, pgErr.Code == pgSerializationFailure, pgErr.Code == pgDeadlockDetected:
			return repositories.NewConflict(op, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return repositories.NewUnavailable(op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return repositories.NewUnavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
