package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// LedgerStore implements domain.Ledger on an accounts table. Transfers run in
// a single transaction with row locks taken in a fixed order, so concurrent
// transfers over the same accounts serialize instead of deadlocking.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// CreateAccount registers a new account bound to the given authority with a
// zero balance.
func (s *LedgerStore) CreateAccount(ctx context.Context, account string, authority domain.Authority) error {
	const query = `
		INSERT INTO accounts (id, authority, balance, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query, account, string(authority))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create account %s: %w", account, err)
	}
	return nil
}

// Transfer moves amount from one account to another. The presented authority
// must match the source account's registered authority and the source must
// hold at least amount; either failure aborts with no effect.
func (s *LedgerStore) Transfer(ctx context.Context, from, to string, authority domain.Authority, amount uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transfer tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock both rows in id order.
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	rows, err := tx.Query(ctx,
		`SELECT id, authority, balance FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]string{first, second})
	if err != nil {
		return fmt.Errorf("postgres: lock accounts: %w", err)
	}

	var fromAuthority string
	var fromBalance uint64
	found := 0
	for rows.Next() {
		var id, auth string
		var balance uint64
		if err := rows.Scan(&id, &auth, &balance); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan account: %w", err)
		}
		found++
		if id == from {
			fromAuthority = auth
			fromBalance = balance
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: lock accounts: %w", err)
	}
	if found != 2 {
		return domain.ErrNotFound
	}

	if fromAuthority != string(authority) {
		return domain.ErrUnauthorized
	}
	if fromBalance < amount {
		return domain.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2, updated_at = NOW() WHERE id = $1`,
		from, amount); err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2, updated_at = NOW() WHERE id = $1`,
		to, amount); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transfer: %w", err)
	}
	return nil
}

// Balance returns the current balance of an account.
func (s *LedgerStore) Balance(ctx context.Context, account string) (uint64, error) {
	var balance uint64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, account).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: balance of %s: %w", account, err)
	}
	return balance, nil
}

// Credit adds amount to an account without a counterparty. It exists for
// funding accounts in development and test environments; production inflows
// arrive via Transfer from an on-ramp account.
func (s *LedgerStore) Credit(ctx context.Context, account string, amount uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2, updated_at = NOW() WHERE id = $1`,
		account, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
