package history

import "time"

// TransactionType classifies a history record.
type TransactionType string

const (
	// TypeCharge records a credit to the balance.
	TypeCharge TransactionType = "CHARGE"
	// TypeUse records a debit from the balance.
	TypeUse TransactionType = "USE"
)

// Transaction is an immutable record of one committed balance change.
type Transaction struct {
	ID         int64
	UserID     int64
	Type       TransactionType
	Amount     int64
	OccurredAt time.Time
}
