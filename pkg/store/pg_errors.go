package store

import (
	"errors"

	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the store reacts to.
const (
	sqlStateUniqueViolation    = "23505"
	sqlStateLockNotAvailable   = "55P03"
	sqlStateSerializationError = "40001"
	sqlStateDeadlockDetected   = "40P01"
)

// classify maps a driver error onto the roadnet error kinds. Errors that
// already carry a kind pass through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if roadnet.Classified(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation:
			switch pgErr.ConstraintName {
			case constraintCustomerName:
				return roadnet.NewError(op, roadnet.ErrCustomerExists).Cause(err).Err()
			case constraintNetworkName:
				return roadnet.NewError(op, roadnet.ErrNetworkExists).Cause(err).Err()
			case constraintVersionLabel:
				return roadnet.NewError(op, roadnet.ErrDuplicateVersion).Cause(err).Err()
			}
		case sqlStateLockNotAvailable, sqlStateSerializationError, sqlStateDeadlockDetected:
			return roadnet.NewError(op, roadnet.ErrReconciliationConflict).Cause(err).Err()
		}
	}
	return roadnet.StorageError(op, err)
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateLockNotAvailable
}
