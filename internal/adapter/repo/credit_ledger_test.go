package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/sqlinline"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCreditLedgerDebitSuccess(t *testing.T) {
	db := &stubExecutor{row: func(query string, args []any) pgx.Row {
		return valuesRow(int64Ptr(28), int64(100))
	}}
	ledger := NewCreditLedger(db)

	res, err := ledger.Debit(context.Background(), domain.DebitRequest{AccountID: "acct", Amount: 72, Description: "batch"})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if !res.Success || res.NewBalance != 28 {
		t.Fatalf("unexpected result %+v", res)
	}
	call := db.calls[0]
	if call.query != sqlinline.QDebitCredits {
		t.Fatalf("unexpected query")
	}
	if call.args[0] != "acct" || call.args[1] != int64(72) || call.args[2] != "consume" {
		t.Fatalf("unexpected args %v", call.args)
	}
}

func TestCreditLedgerDebitRejected(t *testing.T) {
	db := &stubExecutor{row: func(query string, args []any) pgx.Row {
		return valuesRow(nil, int64(10))
	}}
	res, err := NewCreditLedger(db).Debit(context.Background(), domain.DebitRequest{AccountID: "acct", Amount: 24, Type: domain.LedgerEntryReserve})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if res.Success || res.NewBalance != 10 || res.ErrorReason == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if db.calls[0].args[2] != "reserve" {
		t.Fatalf("entry type not forwarded: %v", db.calls[0].args)
	}
}

func TestCreditLedgerDebitRejectsNonPositive(t *testing.T) {
	db := &stubExecutor{}
	if _, err := NewCreditLedger(db).Debit(context.Background(), domain.DebitRequest{AccountID: "a", Amount: 0}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(db.calls) != 0 {
		t.Fatalf("no query expected")
	}
}

func TestCreditLedgerBalanceUnknownAccount(t *testing.T) {
	balance, err := NewCreditLedger(&stubExecutor{}).Balance(context.Background(), "ghost")
	if err != nil || balance != 0 {
		t.Fatalf("Balance = %d, %v", balance, err)
	}
}

func TestCreditLedgerBalancePropagatesErrors(t *testing.T) {
	boom := errors.New("conn refused")
	db := &stubExecutor{row: func(string, []any) pgx.Row {
		return simpleRow{scan: func(...any) error { return boom }}
	}}
	if _, err := NewCreditLedger(db).Balance(context.Background(), "a"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCreditLedgerRefund(t *testing.T) {
	db := &stubExecutor{row: func(string, []any) pgx.Row { return valuesRow(int64(52)) }}
	ok, err := NewCreditLedger(db).Refund(context.Background(), "acct", 24, "refund job")
	if err != nil || !ok {
		t.Fatalf("Refund = %v, %v", ok, err)
	}

	ok, err = NewCreditLedger(&stubExecutor{}).Refund(context.Background(), "ghost", 24, "refund job")
	if err != nil || ok {
		t.Fatalf("refund of unknown account = %v, %v", ok, err)
	}
}

func TestCreditLedgerEntries(t *testing.T) {
	now := time.Now()
	db := &stubExecutor{rows: func(string, []any) (pgx.Rows, error) {
		return &sliceRows{rows: [][]any{
			{"e2", "acct", int64(-24), "consume", "job 2", now},
			{"e1", "acct", int64(100), "grant", "welcome", now.Add(-time.Minute)},
		}}, nil
	}}
	entries, err := NewCreditLedger(db).Entries(context.Background(), "acct", 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Type != domain.LedgerEntryConsume || entries[1].Type != domain.LedgerEntryGrant {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if db.calls[0].args[1] != 50 {
		t.Fatalf("default limit not applied: %v", db.calls[0].args)
	}
}
