package account

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store holds one balance record per user. It performs no business
// validation; callers serialize writes for the same user.
type Store interface {
	Get(ctx context.Context, userID int64) (Account, error)
	Set(ctx context.Context, userID, balance int64) (Account, error)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps accounts in the user_points table.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore builds an account store backed by PostgreSQL. Pass a
// pgx.Tx to scope its writes to a transaction.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the stored account, inserting a zero balance row on first access.
func (s *PostgresStore) Get(ctx context.Context, userID int64) (Account, error) {
	const query = `
        INSERT INTO user_points (user_id, point, updated_at) VALUES ($1, 0, now())
        ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
        RETURNING point, updated_at`
	var (
		balance   int64
		updatedAt time.Time
	)
	if err := s.db.QueryRow(ctx, query, userID).Scan(&balance, &updatedAt); err != nil {
		return Account{}, fmt.Errorf("select account %d: %w", userID, err)
	}
	return Account{UserID: userID, Balance: balance, UpdatedAt: updatedAt.UTC()}, nil
}

// Set overwrites the balance and stamps the update time.
func (s *PostgresStore) Set(ctx context.Context, userID, balance int64) (Account, error) {
	const query = `
        INSERT INTO user_points (user_id, point, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (user_id) DO UPDATE SET point = EXCLUDED.point, updated_at = EXCLUDED.updated_at
        RETURNING updated_at`
	var updatedAt time.Time
	if err := s.db.QueryRow(ctx, query, userID, balance).Scan(&updatedAt); err != nil {
		return Account{}, fmt.Errorf("update account %d: %w", userID, err)
	}
	return Account{UserID: userID, Balance: balance, UpdatedAt: updatedAt.UTC()}, nil
}
