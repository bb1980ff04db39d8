package domain

import "testing"

func TestReplayBalanceReconstructsAccount(t *testing.T) {
	acct := TokenAccount{UserID: "u1"}
	var log []TokenTransaction
	apply := func(txType TransactionType, amount int) {
		switch txType {
		case TransactionCredit:
			acct.Balance += amount
			acct.TotalEarned += amount
		case TransactionDebit:
			acct.Balance -= amount
			acct.TotalSpent += amount
		}
		log = append(log, TokenTransaction{
			UserID:       "u1",
			Type:         txType,
			Amount:       amount,
			BalanceAfter: acct.Balance,
		})
	}

	apply(TransactionCredit, 500)
	apply(TransactionDebit, 100)
	apply(TransactionDebit, 100)
	apply(TransactionCredit, 250)
	apply(TransactionDebit, 300)

	if acct.Balance != acct.TotalEarned-acct.TotalSpent {
		t.Fatalf("balance %d != earned %d - spent %d", acct.Balance, acct.TotalEarned, acct.TotalSpent)
	}
	if got := ReplayBalance(log); got != acct.Balance {
		t.Fatalf("ReplayBalance = %d, want %d", got, acct.Balance)
	}
	if got := ReplayBalance(nil); got != 0 {
		t.Fatalf("ReplayBalance(nil) = %d, want 0", got)
	}
}
