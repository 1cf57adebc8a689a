package postgres

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pkgerrors "github.com/pkg/errors"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"

	constraintOnePendingOrder = "orders_one_pending_per_buyer"
)

// mapError turns driver errors into domain errors; anything else is wrapped
// with op for context.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%s: %w (%s)", op, domain.ErrConflictRace, pgErr.Message)
		case codeUniqueViolation:
			if pgErr.ConstraintName == constraintOnePendingOrder {
				return domain.ErrPendingOrderExists
			}
			return fmt.Errorf("%s: %w on %s", op, domain.ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return pkgerrors.Wrap(err, op)
}

// notFound maps pgx.ErrNoRows to a NotFoundError for entity/id.
func notFound(err error, entity string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound(entity, id)
	}
	return mapError(err, "get "+entity)
}
