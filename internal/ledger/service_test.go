package ledger

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/pointledger/internal/account"
	"github.com/congo-pay/pointledger/internal/history"
	"github.com/congo-pay/pointledger/internal/logging"
	"github.com/congo-pay/pointledger/internal/notification"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

type failingLog struct {
	history.Log
}

func (failingLog) Append(context.Context, int64, history.TransactionType, int64, time.Time) (history.Transaction, error) {
	return history.Transaction{}, errors.New("disk full")
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(account.NewMemoryStore(), history.NewMemoryLog(), nil, logging.Discard())
}

func seed(t *testing.T, s *Service, userID, amount int64) {
	t.Helper()
	if _, err := s.Charge(context.Background(), userID, amount); err != nil {
		t.Fatalf("seed user %d: %v", userID, err)
	}
}

func balanceOf(t *testing.T, s *Service, userID int64) int64 {
	t.Helper()
	acc, err := s.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance %d: %v", userID, err)
	}
	return acc.Balance
}

func historyOf(t *testing.T, s *Service, userID int64) []history.Transaction {
	t.Helper()
	txs, err := s.History(context.Background(), userID)
	if err != nil {
		t.Fatalf("history %d: %v", userID, err)
	}
	return txs
}

func TestCharge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	acc, err := svc.Charge(ctx, 1, 50)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if acc.UserID != 1 || acc.Balance != 50 {
		t.Fatalf("unexpected account %+v", acc)
	}
	if got := balanceOf(t, svc, 1); got != 50 {
		t.Fatalf("expected balance 50, got %d", got)
	}

	txs := historyOf(t, svc, 1)
	if len(txs) != 1 {
		t.Fatalf("expected one history entry, got %d", len(txs))
	}
	if txs[0].Type != history.TypeCharge || txs[0].Amount != 50 {
		t.Fatalf("unexpected entry %+v", txs[0])
	}
	if !txs[0].OccurredAt.Equal(acc.UpdatedAt) {
		t.Fatalf("history time %v differs from commit time %v", txs[0].OccurredAt, acc.UpdatedAt)
	}
}

func TestChargeUpToMaxBalance(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc, 2, 900_000)

	acc, err := svc.Charge(context.Background(), 2, 100_000)
	if err != nil {
		t.Fatalf("charge to cap: %v", err)
	}
	if acc.Balance != MaxBalance {
		t.Fatalf("expected %d, got %d", MaxBalance, acc.Balance)
	}
}

func TestChargeLimits(t *testing.T) {
	cases := []struct {
		name    string
		start   int64
		amount  int64
		wantErr error
	}{
		{name: "single charge above cap on empty account", start: 0, amount: 1_000_001, wantErr: ErrLimitExceeded},
		{name: "single charge above cap on funded account", start: 10, amount: 1_000_001, wantErr: ErrLimitExceeded},
		{name: "resulting balance above cap", start: 100_000, amount: 900_001, wantErr: ErrLimitExceeded},
		{name: "zero amount", start: 0, amount: 0, wantErr: ErrInvalidArgument},
		{name: "negative amount", start: 100, amount: -5, wantErr: ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t)
			if tc.start > 0 {
				seed(t, svc, 3, tc.start)
			}
			before := historyOf(t, svc, 3)

			if _, err := svc.Charge(context.Background(), 3, tc.amount); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if got := balanceOf(t, svc, 3); got != tc.start {
				t.Fatalf("balance changed: expected %d, got %d", tc.start, got)
			}
			if after := historyOf(t, svc, 3); !reflect.DeepEqual(before, after) {
				t.Fatalf("history changed: %v -> %v", before, after)
			}
		})
	}
}

func TestChargeErrorMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Charge(ctx, 1, 0); err == nil || err.Error() != "amount must be positive" {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := svc.Charge(ctx, 1, MaxSingleCharge+1); err == nil || err.Error() != "single charge exceeds limit" {
		t.Fatalf("unexpected error %v", err)
	}
	seed(t, svc, 1, MaxBalance)
	if _, err := svc.Charge(ctx, 1, 1); err == nil || err.Error() != "balance cap exceeded" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestUse(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc, 4, 100)

	acc, err := svc.Use(context.Background(), 4, 100)
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if acc.Balance != 0 {
		t.Fatalf("expected 0, got %d", acc.Balance)
	}

	txs := historyOf(t, svc, 4)
	if len(txs) != 2 {
		t.Fatalf("expected two entries, got %d", len(txs))
	}
	if txs[0].Type != history.TypeCharge || txs[1].Type != history.TypeUse || txs[1].Amount != 100 {
		t.Fatalf("unexpected history %+v", txs)
	}
	if txs[0].ID >= txs[1].ID {
		t.Fatalf("ids not increasing: %d then %d", txs[0].ID, txs[1].ID)
	}
}

func TestUseInsufficientBalance(t *testing.T) {
	cases := []struct {
		name   string
		start  int64
		amount int64
	}{
		{name: "empty account", start: 0, amount: 1},
		{name: "amount above balance", start: 100, amount: 101},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t)
			if tc.start > 0 {
				seed(t, svc, 5, tc.start)
			}
			before := historyOf(t, svc, 5)

			if _, err := svc.Use(context.Background(), 5, tc.amount); !errors.Is(err, ErrInsufficientBalance) {
				t.Fatalf("expected ErrInsufficientBalance, got %v", err)
			}
			if got := balanceOf(t, svc, 5); got != tc.start {
				t.Fatalf("balance changed: expected %d, got %d", tc.start, got)
			}
			if after := historyOf(t, svc, 5); !reflect.DeepEqual(before, after) {
				t.Fatalf("history changed: %v -> %v", before, after)
			}
		})
	}
}

func TestInvalidUserID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Charge(ctx, 0, 10); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("charge: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Use(ctx, -1, 10); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("use: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Balance(ctx, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("balance: expected ErrInvalidArgument, got %v", err)
	}
	_, err := svc.History(ctx, -3)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("history: expected ValidationError, got %v", err)
	}
	if verr.Message != "id must be positive" {
		t.Fatalf("unexpected message %q", verr.Message)
	}
}

func TestRetryingFailureIsDeterministic(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc, 6, 10)

	for i := 0; i < 3; i++ {
		if _, err := svc.Use(context.Background(), 6, 11); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("attempt %d: expected ErrInsufficientBalance, got %v", i, err)
		}
	}
	if got := balanceOf(t, svc, 6); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestConcurrentMixedOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	const userID = int64(7)
	seed(t, svc, userID, 100_000)

	ops := []struct {
		charge bool
		amount int64
	}{
		{charge: true, amount: 1_000},
		{charge: false, amount: 500},
		{charge: true, amount: 4_000},
		{charge: false, amount: 1_500},
	}

	var g errgroup.Group
	for _, op := range ops {
		g.Go(func() error {
			if op.charge {
				_, err := svc.Charge(ctx, userID, op.amount)
				return err
			}
			_, err := svc.Use(ctx, userID, op.amount)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("operations: %v", err)
	}

	if got := balanceOf(t, svc, userID); got != 103_000 {
		t.Fatalf("expected 103000, got %d", got)
	}
	if txs := historyOf(t, svc, userID); len(txs) != 1+len(ops) {
		t.Fatalf("expected %d entries, got %d", 1+len(ops), len(txs))
	}
}

func TestConcurrentBatchHasNoLostUpdates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	const userID = int64(8)
	const start = int64(500_000)
	seed(t, svc, userID, start)

	const workers = 200
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			if i%2 == 0 {
				_, err := svc.Charge(ctx, userID, 300)
				return err
			}
			_, err := svc.Use(ctx, userID, 100)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("batch: %v", err)
	}

	final := balanceOf(t, svc, userID)
	if want := start + (workers/2)*300 - (workers/2)*100; final != want {
		t.Fatalf("expected %d, got %d", want, final)
	}

	txs := historyOf(t, svc, userID)
	if len(txs) != workers+1 {
		t.Fatalf("expected %d entries, got %d", workers+1, len(txs))
	}

	// Replaying the log in commit order must stay within bounds at every step
	// and land on the final balance.
	var running int64
	for _, tx := range txs {
		if tx.Type == history.TypeCharge {
			running += tx.Amount
		} else {
			running -= tx.Amount
		}
		if running < 0 || running > MaxBalance {
			t.Fatalf("replay left bounds at entry %d: %d", tx.ID, running)
		}
	}
	if running != final {
		t.Fatalf("replayed %d, stored %d", running, final)
	}
}

func TestConcurrentUsesNeverOverdraw(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	const userID = int64(9)
	seed(t, svc, userID, 1_000)

	var (
		mu        sync.Mutex
		succeeded int
		g         errgroup.Group
	)
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := svc.Use(ctx, userID, 100)
			if errors.Is(err, ErrInsufficientBalance) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("uses: %v", err)
	}

	if succeeded != 10 {
		t.Fatalf("expected 10 successful uses, got %d", succeeded)
	}
	if got := balanceOf(t, svc, userID); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestConcurrentChargesRespectCap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	const userID = int64(10)

	var g errgroup.Group
	for i := 0; i < 30; i++ {
		g.Go(func() error {
			_, err := svc.Charge(ctx, userID, 100_000)
			if errors.Is(err, ErrLimitExceeded) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("charges: %v", err)
	}

	if got := balanceOf(t, svc, userID); got != MaxBalance {
		t.Fatalf("expected %d, got %d", MaxBalance, got)
	}
	if txs := historyOf(t, svc, userID); len(txs) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(txs))
	}
}

func TestIndependentUsers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var g errgroup.Group
	for u := int64(1); u <= 20; u++ {
		g.Go(func() error {
			for i := 0; i < 10; i++ {
				if _, err := svc.Charge(ctx, u, u); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("charges: %v", err)
	}

	for u := int64(1); u <= 20; u++ {
		if got := balanceOf(t, svc, u); got != u*10 {
			t.Fatalf("user %d: expected %d, got %d", u, u*10, got)
		}
	}
}

func TestFailedHistoryAppendRestoresBalance(t *testing.T) {
	accounts := account.NewMemoryStore()
	svc := NewService(accounts, failingLog{history.NewMemoryLog()}, nil, logging.Discard())
	ctx := context.Background()

	if _, err := accounts.Set(ctx, 11, 400); err != nil {
		t.Fatalf("set: %v", err)
	}

	_, err := svc.Charge(ctx, 11, 100)
	if err == nil {
		t.Fatal("expected append failure")
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Fatalf("store failure reported as validation error: %v", err)
	}

	acc, _ := accounts.Get(ctx, 11)
	if acc.Balance != 400 {
		t.Fatalf("expected balance restored to 400, got %d", acc.Balance)
	}
}

func TestCancelledWaiterDoesNotMutate(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc, 12, 100)

	release, err := svc.locks.Acquire(context.Background(), 12)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.Use(ctx, 12, 50); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	release()

	if got := balanceOf(t, svc, 12); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if _, err := svc.Use(context.Background(), 12, 50); err != nil {
		t.Fatalf("use after release: %v", err)
	}
}

func TestNotifierReceivesCommittedOperations(t *testing.T) {
	n := &recordingNotifier{}
	svc := NewService(account.NewMemoryStore(), history.NewMemoryLog(), n, nil)
	ctx := context.Background()

	if _, err := svc.Charge(ctx, 13, 70); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if _, err := svc.Use(ctx, 13, 20); err != nil {
		t.Fatalf("use: %v", err)
	}
	if _, err := svc.Use(ctx, 13, 1_000); err == nil {
		t.Fatal("expected overdraw to fail")
	}

	if len(n.messages) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.messages))
	}
	if n.messages[0].Kind != notification.KindPointCharged || n.messages[1].Kind != notification.KindPointUsed {
		t.Fatalf("unexpected kinds %+v", n.messages)
	}
	if n.messages[1].Balance != 50 {
		t.Fatalf("expected balance 50 in notification, got %d", n.messages[1].Balance)
	}
}

// stagedTx buffers writes and applies them to the committed stores only when
// fn succeeds, the way a database transaction would.
type stagedTx struct {
	accounts account.Store
	txLog    history.Log
	commits  int
	aborts   int
	failLog  bool
}

type stagedAccounts struct {
	committed account.Store
	pending   map[int64]int64
}

func (s *stagedAccounts) Get(ctx context.Context, userID int64) (account.Account, error) {
	acc, err := s.committed.Get(ctx, userID)
	if err != nil {
		return account.Account{}, err
	}
	if bal, ok := s.pending[userID]; ok {
		acc.Balance = bal
	}
	return acc, nil
}

func (s *stagedAccounts) Set(_ context.Context, userID, balance int64) (account.Account, error) {
	s.pending[userID] = balance
	return account.Account{UserID: userID, Balance: balance, UpdatedAt: time.Now().UTC()}, nil
}

type stagedLog struct {
	history.Log
	pending []history.Transaction
}

func (l *stagedLog) Append(_ context.Context, userID int64, kind history.TransactionType, amount int64, occurredAt time.Time) (history.Transaction, error) {
	tx := history.Transaction{UserID: userID, Type: kind, Amount: amount, OccurredAt: occurredAt}
	l.pending = append(l.pending, tx)
	return tx, nil
}

func (r *stagedTx) WithinTx(ctx context.Context, fn func(accounts account.Store, txLog history.Log) error) error {
	accounts := &stagedAccounts{committed: r.accounts, pending: map[int64]int64{}}
	var txLog history.Log = &stagedLog{Log: r.txLog}
	if r.failLog {
		txLog = failingLog{r.txLog}
	}
	if err := fn(accounts, txLog); err != nil {
		r.aborts++
		return err
	}
	for userID, bal := range accounts.pending {
		if _, err := r.accounts.Set(ctx, userID, bal); err != nil {
			return err
		}
	}
	if staged, ok := txLog.(*stagedLog); ok {
		for _, tx := range staged.pending {
			if _, err := r.txLog.Append(ctx, tx.UserID, tx.Type, tx.Amount, tx.OccurredAt); err != nil {
				return err
			}
		}
	}
	r.commits++
	return nil
}

func TestTxRunnerCommitsBalanceAndHistoryTogether(t *testing.T) {
	accounts := account.NewMemoryStore()
	txLog := history.NewMemoryLog()
	runner := &stagedTx{accounts: accounts, txLog: txLog}
	svc := NewService(accounts, txLog, nil, logging.Discard(), WithTxRunner(runner))
	ctx := context.Background()

	acc, err := svc.Charge(ctx, 14, 300)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if acc.Balance != 300 {
		t.Fatalf("expected 300, got %d", acc.Balance)
	}
	if _, err := svc.Use(ctx, 14, 500); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance through the runner, got %v", err)
	}
	if runner.commits != 1 || runner.aborts != 1 {
		t.Fatalf("expected 1 commit and 1 abort, got %d and %d", runner.commits, runner.aborts)
	}
	if got := balanceOf(t, svc, 14); got != 300 {
		t.Fatalf("expected 300, got %d", got)
	}
	if txs := historyOf(t, svc, 14); len(txs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(txs))
	}
}

func TestTxRunnerRollsBackBalanceWhenAppendFails(t *testing.T) {
	accounts := account.NewMemoryStore()
	txLog := history.NewMemoryLog()
	runner := &stagedTx{accounts: accounts, txLog: txLog, failLog: true}
	svc := NewService(accounts, txLog, nil, logging.Discard(), WithTxRunner(runner))
	ctx := context.Background()

	if _, err := accounts.Set(ctx, 15, 400); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := svc.Charge(ctx, 15, 100); err == nil {
		t.Fatal("expected append failure")
	}
	if runner.aborts != 1 || runner.commits != 0 {
		t.Fatalf("expected the transaction to abort, got %d commits %d aborts", runner.commits, runner.aborts)
	}
	if got := balanceOf(t, svc, 15); got != 400 {
		t.Fatalf("expected 400, got %d", got)
	}
}
