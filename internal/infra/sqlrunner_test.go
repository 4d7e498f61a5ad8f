package infra

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExtractMarker(t *testing.T) {
	query := `
--sql 6f1d2c9a-1b7e-4a53-9a3e-0c4d5e6f7a8b
select 1
from dual`
	marker, body, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker: %v", err)
	}
	if marker != "6f1d2c9a-1b7e-4a53-9a3e-0c4d5e6f7a8b" {
		t.Fatalf("marker mismatch: %q", marker)
	}
	if strings.Contains(body, "--sql") || !strings.HasPrefix(body, "select 1") {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestExtractMarkerRejectsUnmarkedQueries(t *testing.T) {
	for _, q := range []string{"select 1", "--sql not-a-uuid\nselect 1", "-- 6f1d2c9a-1b7e-4a53-9a3e-0c4d5e6f7a8b\nselect 1"} {
		if _, _, err := extractMarker(q); !errors.Is(err, ErrSQLMarker) {
			t.Fatalf("expected ErrSQLMarker for %q, got %v", q, err)
		}
	}
	if _, _, err := extractMarker("   "); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestSQLRunnerRejectsBeforeTouchingPool(t *testing.T) {
	runner := NewSQLRunner(nil, NewLogger("test", "disabled"))
	if _, err := runner.Exec(context.Background(), "select 1"); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("expected marker error, got %v", err)
	}
	if err := runner.QueryRow(context.Background(), "select 1").Scan(); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("expected marker error from row, got %v", err)
	}
}
