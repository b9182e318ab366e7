package ecs

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the entity or component does not exist.
	ErrNotFound = errors.New("ecs: not found")
	// ErrForbidden indicates an ownership mismatch. It is always surfaced as
	// an error, never degraded to an empty result.
	ErrForbidden = errors.New("ecs: forbidden")
	// ErrValidation indicates a malformed component payload; nothing was
	// written.
	ErrValidation = errors.New("ecs: validation")
	// ErrConflict indicates a constraint violation from the storage engine.
	ErrConflict = errors.New("ecs: conflict")
	// ErrRetryable indicates a transient storage failure worth retrying.
	ErrRetryable = errors.New("ecs: retryable")
)

func validationError(err error) error {
	return errors.Join(ErrValidation, err)
}

// MapStoreError folds gorm and postgres driver failures into the package's
// sentinel taxonomy.
func MapStoreError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrRetryable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return errors.Join(ErrConflict, err) // unique_violation
		case "40001", "40P01", "55P03":
			return errors.Join(ErrRetryable, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate key"):
		return errors.Join(ErrConflict, err)
	case strings.Contains(msg, "deadlock"), strings.Contains(msg, "serialization"):
		return errors.Join(ErrRetryable, err)
	default:
		return err
	}
}
