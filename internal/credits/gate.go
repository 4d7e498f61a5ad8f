package credits

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// Sufficiency is the answer to a pre-flight balance check.
type Sufficiency struct {
	Sufficient     bool
	CurrentBalance int64
}

// Shortfall returns how many credits are missing for amount.
func (s Sufficiency) Shortfall(amount int64) int64 {
	if s.CurrentBalance >= amount {
		return 0
	}
	return amount - s.CurrentBalance
}

// Gate is the scheduler's view of the credit ledger. It never caches
// balances: atomicity belongs to the ledger.
type Gate struct {
	ledger domain.CreditLedger
	logger zerolog.Logger
}

// NewGate wraps a ledger collaborator.
func NewGate(ledger domain.CreditLedger, logger zerolog.Logger) *Gate {
	return &Gate{ledger: ledger, logger: logger}
}

// CheckSufficient is a pure read of the account balance.
func (g *Gate) CheckSufficient(ctx context.Context, accountID string, amount int64) (Sufficiency, error) {
	balance, err := g.ledger.Balance(ctx, accountID)
	if err != nil {
		return Sufficiency{}, fmt.Errorf("credits: read balance: %w", err)
	}
	return Sufficiency{Sufficient: balance >= amount, CurrentBalance: balance}, nil
}

// Require returns an *domain.InsufficientCreditsError when the balance cannot cover amount.
func (g *Gate) Require(ctx context.Context, accountID string, amount int64) error {
	s, err := g.CheckSufficient(ctx, accountID, amount)
	if err != nil {
		return err
	}
	if !s.Sufficient {
		return &domain.InsufficientCreditsError{Needed: amount, Balance: s.CurrentBalance}
	}
	return nil
}

// Debit consumes credits for a finished job.
func (g *Gate) Debit(ctx context.Context, accountID string, amount int64, description string) (domain.DebitResult, error) {
	return g.debit(ctx, domain.DebitRequest{
		AccountID:   accountID,
		Amount:      amount,
		Type:        domain.LedgerEntryConsume,
		Description: description,
	})
}

// Reserve takes credits before a job runs; a failed job must Refund them.
func (g *Gate) Reserve(ctx context.Context, accountID string, amount int64, description string) (domain.DebitResult, error) {
	return g.debit(ctx, domain.DebitRequest{
		AccountID:   accountID,
		Amount:      amount,
		Type:        domain.LedgerEntryReserve,
		Description: description,
	})
}

// debit returns an error wrapping domain.ErrLedgerDebitRace when the ledger
// rejects the amount, so callers can fail the job without special casing.
func (g *Gate) debit(ctx context.Context, req domain.DebitRequest) (domain.DebitResult, error) {
	if req.Amount <= 0 {
		return domain.DebitResult{Success: true}, nil
	}
	res, err := g.ledger.Debit(ctx, req)
	if err != nil {
		return res, fmt.Errorf("credits: %s: %w", req.Type, err)
	}
	if !res.Success {
		g.logger.Warn().
			Str("account_id", req.AccountID).
			Int64("amount", req.Amount).
			Str("reason", res.ErrorReason).
			Msg("credits: debit rejected")
		return res, fmt.Errorf("%w: %w", domain.ErrLedgerDebitRace, &domain.InsufficientCreditsError{
			Needed:  req.Amount,
			Balance: res.NewBalance,
		})
	}
	return res, nil
}

// Refund returns credits to the account.
func (g *Gate) Refund(ctx context.Context, accountID string, amount int64, description string) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	ok, err := g.ledger.Refund(ctx, accountID, amount, description)
	if err != nil {
		return false, fmt.Errorf("credits: refund: %w", err)
	}
	if !ok {
		g.logger.Error().Str("account_id", accountID).Int64("amount", amount).Msg("credits: refund rejected")
	}
	return ok, nil
}

// CurrentBalance is for display only.
func (g *Gate) CurrentBalance(ctx context.Context, accountID string) (int64, error) {
	return g.ledger.Balance(ctx, accountID)
}

// Description builds the ledger description for a job.
func Description(action, batchID, jobID string) string {
	return strings.TrimSpace(fmt.Sprintf("%s batch=%s job=%s", action, batchID, jobID))
}
