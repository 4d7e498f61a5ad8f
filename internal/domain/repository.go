package domain

import (
	"context"
	"time"
)

// LedgerEntryType enumerates append-only ledger mutations.
type LedgerEntryType string

const (
	LedgerEntryReserve LedgerEntryType = "reserve"
	LedgerEntryConsume LedgerEntryType = "consume"
	LedgerEntryRefund  LedgerEntryType = "refund"
	LedgerEntryGrant   LedgerEntryType = "grant"
)

// LedgerEntry is one append-only mutation of a credit account.
type LedgerEntry struct {
	ID          string
	AccountID   string
	Amount      int64
	Type        LedgerEntryType
	Description string
	CreatedAt   time.Time
}

// DebitRequest asks the ledger to remove credits from an account.
type DebitRequest struct {
	AccountID   string
	Amount      int64
	Type        LedgerEntryType
	Description string
}

// DebitResult is the ledger's answer to a debit. Success is false when the
// balance could not cover the amount; NewBalance then carries the unchanged
// balance and ErrorReason explains why.
type DebitResult struct {
	Success     bool
	NewBalance  int64
	ErrorReason string
}

// CreditLedger owns credit balances. Implementations must make Debit atomic
// with respect to concurrent callers.
type CreditLedger interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	Debit(ctx context.Context, req DebitRequest) (DebitResult, error)
	Refund(ctx context.Context, accountID string, amount int64, description string) (bool, error)
}

// HistoryRecord is the durable audit trail entry of a job.
type HistoryRecord struct {
	ID         string
	AccountID  string
	BatchID    string
	JobID      string
	Model      string
	Resolution Resolution
	Credits    int64
	Status     JobStatus
	ResultRef  string
	ErrorRef   string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HistoryUpdate moves a history record to a terminal status.
type HistoryUpdate struct {
	Status    JobStatus
	ResultRef string
	ErrorRef  string
}

// HistoryStore persists history records.
type HistoryStore interface {
	Create(ctx context.Context, record *HistoryRecord) (string, error)
	Update(ctx context.Context, id string, update HistoryUpdate) error
	Get(ctx context.Context, id string) (*HistoryRecord, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]HistoryRecord, error)
}

// ObjectStorage persists produced assets and returns a reachable URL.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, data []byte, mime string) (string, error)
}
