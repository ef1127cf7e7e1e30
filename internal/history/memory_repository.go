package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type userEntries struct {
	mu      sync.Mutex
	entries []Transaction
}

type memoryLog struct {
	seq   atomic.Int64
	users sync.Map // int64 -> *userEntries
}

// NewMemoryLog builds an in-memory history log. Ids come from a single
// counter; each user's entries are guarded by their own mutex.
func NewMemoryLog() Log {
	return &memoryLog{}
}

func (l *memoryLog) Append(_ context.Context, userID int64, kind TransactionType, amount int64, occurredAt time.Time) (Transaction, error) {
	tx := Transaction{
		ID:         l.seq.Add(1),
		UserID:     userID,
		Type:       kind,
		Amount:     amount,
		OccurredAt: occurredAt,
	}

	v, _ := l.users.LoadOrStore(userID, &userEntries{})
	ue := v.(*userEntries)
	ue.mu.Lock()
	ue.entries = append(ue.entries, tx)
	ue.mu.Unlock()

	return tx, nil
}

func (l *memoryLog) ListByUser(_ context.Context, userID int64) ([]Transaction, error) {
	v, ok := l.users.Load(userID)
	if !ok {
		return []Transaction{}, nil
	}
	ue := v.(*userEntries)
	ue.mu.Lock()
	defer ue.mu.Unlock()
	out := make([]Transaction, len(ue.entries))
	copy(out, ue.entries)
	return out, nil
}
