package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound signals the source or destination account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrInsufficientFunds signals the source balance cannot cover the transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrNegativeAmount signals a transfer or deposit of a negative amount.
	ErrNegativeAmount = errors.New("ledger: negative amount")
)

// Repository moves value between accounts. Write operations take the caller's
// transaction so a failed transfer aborts the surrounding business operation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureAccount creates the account row if it does not exist yet.
func (r *Repository) EnsureAccount(ctx context.Context, tx pgx.Tx, id string) error {
	if id == "" {
		return fmt.Errorf("ledger: empty account id")
	}
	const q = `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("ledger: ensure account: %w", err)
	}
	return nil
}

// Transfer debits from and credits to inside the active transaction. The
// source row is locked first so concurrent transfers against the same account
// serialize. A zero amount is a legal no-op.
func (r *Repository) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64, memo string) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	if amount == 0 {
		return nil
	}
	if from == "" || to == "" {
		return fmt.Errorf("ledger: transfer requires both accounts")
	}

	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, from).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("ledger: lock source account: %w", err)
	}
	if balance < amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $2, updated_at = now() WHERE id = $1`, from, amount); err != nil {
		return fmt.Errorf("ledger: debit %s: %w", from, err)
	}

	tag, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2, updated_at = now() WHERE id = $1`, to, amount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("ledger: credit %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	const journal = `INSERT INTO transfers (from_account, to_account, amount, memo) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, journal, from, to, amount, memo); err != nil {
		return fmt.Errorf("ledger: journal transfer: %w", err)
	}

	return nil
}

// Deposit credits an account from outside the ledger (a funding rail the core
// does not model). The account row is created on first use.
func (r *Repository) Deposit(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrNegativeAmount
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.EnsureAccount(ctx, tx, accountID); err != nil {
		return 0, err
	}

	var balance int64
	const q = `UPDATE accounts SET balance = balance + $2, updated_at = now() WHERE id = $1 RETURNING balance`
	if err := tx.QueryRow(ctx, q, accountID, amount).Scan(&balance); err != nil {
		return 0, fmt.Errorf("ledger: deposit: %w", err)
	}

	const journal = `INSERT INTO transfers (from_account, to_account, amount, memo) VALUES ('', $1, $2, 'deposit')`
	if _, err := tx.Exec(ctx, journal, accountID, amount); err != nil {
		return 0, fmt.Errorf("ledger: journal deposit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}

	return balance, nil
}

// Balance returns the current balance for an account.
func (r *Repository) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}
