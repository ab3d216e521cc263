package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"loaner-backend/internal/repository"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every repository can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, reposFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func reposFor(q dbtx) repository.Repositories {
	return repository.Repositories{
		People:      NewPersonRepository(q),
		Devices:     NewDeviceRepository(q),
		Checkouts:   NewCheckoutRepository(q),
		Fees:        NewFeeRepository(q),
		Payments:    NewPaymentRepository(q),
		Maintenance: NewMaintenanceRepository(q),
		Sessions:    NewSessionRepository(q),
	}
}

// uniqueConstraint returns the violated constraint name when err is a
// Postgres unique violation.
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// expectRow turns an update that matched nothing into sentinel.
func expectRow(res sql.Result, sentinel error) error {
	ok, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !ok {
		return sentinel
	}
	return nil
}
