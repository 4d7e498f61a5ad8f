package credits

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// MemoryLedger is an in-process ledger for development and tests. Balances
// are the running sum of the append-only entries; debits carry negative amounts.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []domain.LedgerEntry
	seed     int64
}

// NewMemoryLedger creates a ledger where unknown accounts start with seed credits.
func NewMemoryLedger(seed int64) *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int64), seed: seed}
}

// Grant appends a top-up entry for the account.
func (l *MemoryLedger) Grant(accountID string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(accountID)
	l.append(accountID, amount, domain.LedgerEntryGrant, "grant")
}

func (l *MemoryLedger) Balance(_ context.Context, accountID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(accountID)
	return l.balances[accountID], nil
}

func (l *MemoryLedger) Debit(ctx context.Context, req domain.DebitRequest) (domain.DebitResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.DebitResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(req.AccountID)
	balance := l.balances[req.AccountID]
	if balance < req.Amount {
		return domain.DebitResult{Success: false, NewBalance: balance, ErrorReason: "insufficient balance"}, nil
	}
	typ := req.Type
	if typ == "" {
		typ = domain.LedgerEntryConsume
	}
	l.append(req.AccountID, -req.Amount, typ, req.Description)
	return domain.DebitResult{Success: true, NewBalance: l.balances[req.AccountID]}, nil
}

func (l *MemoryLedger) Refund(ctx context.Context, accountID string, amount int64, description string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(accountID)
	l.append(accountID, amount, domain.LedgerEntryRefund, description)
	return true, nil
}

// Entries returns a copy of the account's ledger entries.
func (l *MemoryLedger) Entries(accountID string) []domain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range l.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

func (l *MemoryLedger) ensure(accountID string) {
	if _, ok := l.balances[accountID]; !ok {
		l.balances[accountID] = l.seed
	}
}

func (l *MemoryLedger) append(accountID string, amount int64, typ domain.LedgerEntryType, description string) {
	l.entries = append(l.entries, domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		Type:        typ,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
	l.balances[accountID] += amount
}

var _ domain.CreditLedger = (*MemoryLedger)(nil)
