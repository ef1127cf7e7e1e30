package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/congo-pay/pointledger/internal/account"
	"github.com/congo-pay/pointledger/internal/history"
)

// TxRunner runs fn against stores whose writes commit or roll back together.
// fn's error is returned unchanged.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(accounts account.Store, txLog history.Log) error) error
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PostgresTx commits a balance update and its history row in one PostgreSQL
// transaction, so a crash between the two writes cannot strand either.
type PostgresTx struct {
	db TxBeginner
}

// NewPostgresTx builds a runner over a *pgxpool.Pool.
func NewPostgresTx(db TxBeginner) *PostgresTx {
	return &PostgresTx{db: db}
}

// WithinTx begins a transaction, hands fn stores bound to it and commits when
// fn succeeds.
func (p *PostgresTx) WithinTx(ctx context.Context, fn func(accounts account.Store, txLog history.Log) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(account.NewPostgresStore(tx), history.NewPostgresLog(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
