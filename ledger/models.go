package ledger

import "time"

// EscrowAccountID is the custody account. Funds held here belong to neither
// party until an escrow transition releases them.
const EscrowAccountID = "escrow"

// Account mirrors the accounts table. Balances are integer minor units.
type Account struct {
	ID        string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is one row of the append-only transfers journal.
type Entry struct {
	ID          int64
	FromAccount string
	ToAccount   string
	Amount      int64
	Memo        string
	CreatedAt   time.Time
}
