package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger on Postgres. Debits are a
// single conditional statement, so concurrent workers can never overdraw an
// account.
type CreditLedgerPG struct {
	db infra.SQLExecutor
}

// NewCreditLedger creates a ledger backed by the given executor.
func NewCreditLedger(db infra.SQLExecutor) *CreditLedgerPG {
	return &CreditLedgerPG{db: db}
}

// Balance returns the account balance. Unknown accounts hold zero credits.
func (r *CreditLedgerPG) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	if err := r.db.QueryRow(ctx, sqlinline.QSelectCreditBalance, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

// Debit removes req.Amount when the balance covers it.
func (r *CreditLedgerPG) Debit(ctx context.Context, req domain.DebitRequest) (domain.DebitResult, error) {
	if req.Amount <= 0 {
		return domain.DebitResult{}, fmt.Errorf("%w: debit amount must be positive", domain.ErrInvalidInput)
	}
	entryType := req.Type
	if entryType == "" {
		entryType = domain.LedgerEntryConsume
	}
	var (
		newBalance *int64
		current    int64
	)
	err := r.db.QueryRow(ctx, sqlinline.QDebitCredits, req.AccountID, req.Amount, string(entryType), req.Description).
		Scan(&newBalance, &current)
	if err != nil {
		return domain.DebitResult{}, fmt.Errorf("debit credits: %w", err)
	}
	if newBalance == nil {
		return domain.DebitResult{
			Success:     false,
			NewBalance:  current,
			ErrorReason: fmt.Sprintf("balance %d does not cover %d", current, req.Amount),
		}, nil
	}
	return domain.DebitResult{Success: true, NewBalance: *newBalance}, nil
}

// Refund returns credits to an existing account. It reports false when the
// account does not exist.
func (r *CreditLedgerPG) Refund(ctx context.Context, accountID string, amount int64, description string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: refund amount must be positive", domain.ErrInvalidInput)
	}
	var balance int64
	if err := r.db.QueryRow(ctx, sqlinline.QRefundCredits, accountID, amount, description).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("refund credits: %w", err)
	}
	return true, nil
}

// Grant tops an account up, creating it when needed, and returns the new balance.
func (r *CreditLedgerPG) Grant(ctx context.Context, accountID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: grant amount must be positive", domain.ErrInvalidInput)
	}
	var balance int64
	if err := r.db.QueryRow(ctx, sqlinline.QGrantCredits, accountID, amount, description).Scan(&balance); err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return balance, nil
}

// Entries lists the most recent ledger entries of an account.
func (r *CreditLedgerPG) Entries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, sqlinline.QListLedgerEntries, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e         domain.LedgerEntry
			entryType string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &entryType, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = domain.LedgerEntryType(entryType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
