package account

import "time"

// Account is the current point balance of a single user.
type Account struct {
	UserID    int64
	Balance   int64
	UpdatedAt time.Time
}
