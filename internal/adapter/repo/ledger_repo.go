package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelmint/internal/domain"
)

// TokenLedgerPG implements domain.TokenLedger with an atomic conditional
// debit: the balance check and the decrement happen in one statement, so
// a concurrent debit can never drive the balance negative.
type TokenLedgerPG struct {
	pool *pgxpool.Pool
}

// NewTokenLedger creates a ledger backed by PostgreSQL.
func NewTokenLedger(pool *pgxpool.Pool) *TokenLedgerPG {
	return &TokenLedgerPG{pool: pool}
}

// Balance reads the current balance; a user without an account row has
// balance zero.
func (l *TokenLedgerPG) Balance(ctx context.Context, userID string) (int, error) {
	query := `
SELECT balance FROM token_accounts WHERE user_id = $1;
`
	var balance int
	if err := l.pool.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// Debit conditionally decrements the balance and appends the ledger row
// in one transaction. Fails closed with ErrInsufficientBalance when the
// balance is short at the moment of the update.
func (l *TokenLedgerPG) Debit(ctx context.Context, userID string, amount int, reasonCode, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, errors.New("ledger: debit amount must be positive")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var remaining int
	err = tx.QueryRow(ctx, `
UPDATE token_accounts
SET balance = balance - $2,
    total_spent = total_spent + $2,
    updated_at = now()
WHERE user_id = $1 AND balance >= $2
RETURNING balance;
`, userID, amount).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrInsufficientBalance
		}
		return 0, err
	}

	if err := l.appendTransaction(ctx, tx, userID, domain.TransactionDebit, amount, remaining, reasonCode, referenceID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Credit adds to the balance, creating the account row when missing, and
// appends the ledger row in the same transaction.
func (l *TokenLedgerPG) Credit(ctx context.Context, userID string, amount int, reasonCode, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, errors.New("ledger: credit amount must be positive")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var remaining int
	err = tx.QueryRow(ctx, `
INSERT INTO token_accounts (user_id, balance, total_earned, total_spent)
VALUES ($1, $2, $2, 0)
ON CONFLICT (user_id) DO UPDATE
SET balance = token_accounts.balance + $2,
    total_earned = token_accounts.total_earned + $2,
    updated_at = now()
RETURNING balance;
`, userID, amount).Scan(&remaining)
	if err != nil {
		return 0, err
	}

	if err := l.appendTransaction(ctx, tx, userID, domain.TransactionCredit, amount, remaining, reasonCode, referenceID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return remaining, nil
}

func (l *TokenLedgerPG) appendTransaction(ctx context.Context, tx pgx.Tx, userID string, kind domain.TransactionType, amount, balanceAfter int, reasonCode, referenceID string) error {
	_, err := tx.Exec(ctx, `
INSERT INTO token_transactions (id, user_id, type, amount, balance_after, reason_code, reference_id)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''));
`, uuid.NewString(), userID, kind, amount, balanceAfter, reasonCode, referenceID)
	return err
}

// Transactions lists a user's ledger entries oldest first.
func (l *TokenLedgerPG) Transactions(ctx context.Context, userID string) ([]domain.TokenTransaction, error) {
	query := `
SELECT id, user_id, type, amount, balance_after, reason_code, COALESCE(reference_id, ''), created_at
FROM token_transactions
WHERE user_id = $1
ORDER BY created_at ASC;
`
	rows, err := l.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// TransactionsByReference lists the ledger entries charged against one
// generation.
func (l *TokenLedgerPG) TransactionsByReference(ctx context.Context, referenceID string) ([]domain.TokenTransaction, error) {
	query := `
SELECT id, user_id, type, amount, balance_after, reason_code, COALESCE(reference_id, ''), created_at
FROM token_transactions
WHERE reference_id = $1
ORDER BY created_at ASC;
`
	rows, err := l.pool.Query(ctx, query, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]domain.TokenTransaction, error) {
	var out []domain.TokenTransaction
	for rows.Next() {
		var tx domain.TokenTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.BalanceAfter, &tx.ReasonCode, &tx.ReferenceID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

var _ domain.TokenLedger = (*TokenLedgerPG)(nil)
