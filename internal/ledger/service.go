package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/pointledger/internal/account"
	"github.com/congo-pay/pointledger/internal/history"
	"github.com/congo-pay/pointledger/internal/notification"
	"github.com/congo-pay/pointledger/internal/userlock"
)

const (
	opCharge = "charge"
	opUse    = "use"
)

// Service applies charges and uses to user balances. Mutations for one user
// are serialized by a per-user lock; different users proceed in parallel.
type Service struct {
	accounts account.Store
	history  history.Log
	tx       TxRunner
	locks    *userlock.Registry
	notifier notification.Notifier
	logger   *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithTxRunner makes each commit run inside runner's transaction instead of
// writing to the service's stores directly.
func WithTxRunner(runner TxRunner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

// NewService builds a ledger service over the given stores. notifier and
// logger may be nil.
func NewService(accounts account.Store, txLog history.Log, notifier notification.Notifier, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		accounts: accounts,
		history:  txLog,
		locks:    userlock.New(),
		notifier: notifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Balance returns the last committed account state. It takes no lock.
func (s *Service) Balance(ctx context.Context, userID int64) (account.Account, error) {
	if userID <= 0 {
		return account.Account{}, invalidArgument("id must be positive")
	}
	acc, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return account.Account{}, fmt.Errorf("load account %d: %w", userID, err)
	}
	return acc, nil
}

// History returns the user's transactions in commit order. It takes no lock.
func (s *Service) History(ctx context.Context, userID int64) ([]history.Transaction, error) {
	if userID <= 0 {
		return nil, invalidArgument("id must be positive")
	}
	txs, err := s.history.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load history %d: %w", userID, err)
	}
	return txs, nil
}

// Charge credits amount to the user's balance.
func (s *Service) Charge(ctx context.Context, userID, amount int64) (account.Account, error) {
	if err := validate(userID, amount); err != nil {
		return account.Account{}, s.rejected(ctx, opCharge, userID, amount, err)
	}
	if amount > MaxSingleCharge {
		return account.Account{}, s.rejected(ctx, opCharge, userID, amount, limitExceeded("single charge exceeds limit"))
	}

	return s.mutate(ctx, opCharge, userID, amount, func(balance int64) (int64, error) {
		if balance+amount > MaxBalance {
			return 0, limitExceeded("balance cap exceeded")
		}
		return balance + amount, nil
	})
}

// Use debits amount from the user's balance.
func (s *Service) Use(ctx context.Context, userID, amount int64) (account.Account, error) {
	if err := validate(userID, amount); err != nil {
		return account.Account{}, s.rejected(ctx, opUse, userID, amount, err)
	}

	return s.mutate(ctx, opUse, userID, amount, func(balance int64) (int64, error) {
		if balance <= 0 || balance < amount {
			return 0, insufficientBalance("insufficient balance")
		}
		return balance - amount, nil
	})
}

func validate(userID, amount int64) error {
	if userID <= 0 {
		return invalidArgument("userId must be positive")
	}
	if amount <= 0 {
		return invalidArgument("amount must be positive")
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, op string, userID, amount int64, apply func(balance int64) (int64, error)) (account.Account, error) {
	updated, err := s.commit(ctx, op, userID, amount, apply)
	if err != nil {
		return account.Account{}, s.rejected(ctx, op, userID, amount, err)
	}

	operationsTotal.WithLabelValues(op, outcomeOf(nil)).Inc()
	s.notify(ctx, op, userID, amount, updated.Balance)
	return updated, nil
}

// commit runs the balance-dependent part of an operation while holding the
// user's lock. Once the lock is held the operation is not cancellable.
func (s *Service) commit(ctx context.Context, op string, userID, amount int64, apply func(balance int64) (int64, error)) (account.Account, error) {
	waitStart := time.Now()
	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return account.Account{}, fmt.Errorf("acquire lock for user %d: %w", userID, err)
	}
	defer release()
	lockWaitSeconds.WithLabelValues(op).Observe(time.Since(waitStart).Seconds())

	ctx = context.WithoutCancel(ctx)

	if s.tx == nil {
		return s.write(ctx, s.accounts, s.history, op, userID, amount, apply, true)
	}
	var updated account.Account
	err = s.tx.WithinTx(ctx, func(accounts account.Store, txLog history.Log) error {
		var err error
		updated, err = s.write(ctx, accounts, txLog, op, userID, amount, apply, false)
		return err
	})
	if err != nil {
		return account.Account{}, err
	}
	return updated, nil
}

// write reads, validates and stores one mutation. With restore set, a failed
// history append is undone by writing the previous balance back; inside a
// transaction the rollback does that instead.
func (s *Service) write(ctx context.Context, accounts account.Store, txLog history.Log, op string, userID, amount int64, apply func(balance int64) (int64, error), restore bool) (account.Account, error) {
	current, err := accounts.Get(ctx, userID)
	if err != nil {
		return account.Account{}, fmt.Errorf("load account %d: %w", userID, err)
	}

	next, err := apply(current.Balance)
	if err != nil {
		return account.Account{}, err
	}

	updated, err := accounts.Set(ctx, userID, next)
	if err != nil {
		return account.Account{}, fmt.Errorf("store balance for user %d: %w", userID, err)
	}

	kind := history.TypeCharge
	if op == opUse {
		kind = history.TypeUse
	}
	if _, err := txLog.Append(ctx, userID, kind, amount, updated.UpdatedAt); err != nil {
		if restore {
			if _, restoreErr := accounts.Set(ctx, userID, current.Balance); restoreErr != nil {
				s.logger.ErrorContext(ctx, "restore balance after failed history append",
					slog.Int64("user_id", userID),
					slog.Int64("balance", current.Balance),
					slog.Any("error", restoreErr),
				)
			}
		}
		return account.Account{}, fmt.Errorf("append history for user %d: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "point "+op+" committed",
		slog.Int64("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance", updated.Balance),
	)
	return updated, nil
}

func (s *Service) rejected(ctx context.Context, op string, userID, amount int64, err error) error {
	outcome := outcomeOf(err)
	operationsTotal.WithLabelValues(op, outcome).Inc()

	level := slog.LevelWarn
	if outcome == "error" {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "point "+op+" rejected",
		slog.Int64("user_id", userID),
		slog.Int64("amount", amount),
		slog.String("outcome", outcome),
		slog.Any("error", err),
	)
	return err
}

func (s *Service) notify(ctx context.Context, op string, userID, amount, balance int64) {
	if s.notifier == nil {
		return
	}
	kind := notification.KindPointCharged
	if op == opUse {
		kind = notification.KindPointUsed
	}
	msg := notification.Message{Kind: kind, UserID: userID, Amount: amount, Balance: balance}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed", slog.String("kind", kind), slog.Any("error", err))
	}
}
