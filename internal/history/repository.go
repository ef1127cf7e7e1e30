package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Log is an append-only store of transactions.
type Log interface {
	Append(ctx context.Context, userID int64, kind TransactionType, amount int64, occurredAt time.Time) (Transaction, error)
	ListByUser(ctx context.Context, userID int64) ([]Transaction, error)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresLog persists transactions in the point_histories table.
type PostgresLog struct {
	db Querier
}

// NewPostgresLog builds a history log backed by PostgreSQL. Pass a pgx.Tx to
// scope its writes to a transaction.
func NewPostgresLog(db Querier) *PostgresLog {
	return &PostgresLog{db: db}
}

// Append inserts a record; the id comes from the table's identity sequence.
func (l *PostgresLog) Append(ctx context.Context, userID int64, kind TransactionType, amount int64, occurredAt time.Time) (Transaction, error) {
	var id int64
	err := l.db.QueryRow(ctx, `INSERT INTO point_histories (user_id, type, amount, occurred_at)
        VALUES ($1, $2, $3, $4) RETURNING id`, userID, string(kind), amount, occurredAt.UTC()).Scan(&id)
	if err != nil {
		return Transaction{}, fmt.Errorf("insert history for user %d: %w", userID, err)
	}
	return Transaction{ID: id, UserID: userID, Type: kind, Amount: amount, OccurredAt: occurredAt.UTC()}, nil
}

// ListByUser returns the user's transactions in commit order.
func (l *PostgresLog) ListByUser(ctx context.Context, userID int64) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT id, type, amount, occurred_at
        FROM point_histories WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history for user %d: %w", userID, err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		var (
			tx         Transaction
			kind       string
			occurredAt time.Time
		)
		if err := rows.Scan(&tx.ID, &kind, &tx.Amount, &occurredAt); err != nil {
			return nil, err
		}
		tx.UserID = userID
		tx.Type = TransactionType(kind)
		tx.OccurredAt = occurredAt.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}
