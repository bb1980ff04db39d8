package domain

import "time"

// TokenAccount holds a user's spendable balance. The balance is always
// reconstructible as totalEarned - totalSpent; debits fail closed rather
// than clamping at zero.
type TokenAccount struct {
	UserID      string
	Balance     int
	TotalEarned int
	TotalSpent  int
}

// TransactionType distinguishes ledger entry directions.
type TransactionType string

const (
	TransactionCredit TransactionType = "CREDIT"
	TransactionDebit  TransactionType = "DEBIT"
)

// TokenTransaction is one append-only ledger entry. ReferenceID carries
// the generation id for generation debits.
type TokenTransaction struct {
	ID           string
	UserID       string
	Type         TransactionType
	Amount       int
	BalanceAfter int
	ReasonCode   string
	ReferenceID  string
	CreatedAt    time.Time
}

// ReplayBalance folds a user's transaction log into the balance it
// implies. Used to audit the account row against the ledger.
func ReplayBalance(log []TokenTransaction) int {
	balance := 0
	for _, tx := range log {
		switch tx.Type {
		case TransactionCredit:
			balance += tx.Amount
		case TransactionDebit:
			balance -= tx.Amount
		}
	}
	return balance
}
