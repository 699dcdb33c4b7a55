package services

import (
	"context"
	"database/sql"

	"github.com/Fecu3799/app-fuchibol-sub000/db"
	"github.com/Fecu3799/app-fuchibol-sub000/repositories"
)

// TxRunner is the unit-of-work boundary: fn runs with an executor bound to one
// transaction, committed on nil and rolled back on error.
type TxRunner interface {
	InTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error
}

type sqlTxRunner struct {
	db *sql.DB
}

// NewSQLTxRunner wraps a *sql.DB into the TxRunner used by all services.
func NewSQLTxRunner(database *sql.DB) TxRunner {
	return &sqlTxRunner{db: database}
}

func (r *sqlTxRunner) InTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(tx)
	})
}
