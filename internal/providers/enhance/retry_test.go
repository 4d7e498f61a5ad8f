package enhance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Enhance(ctx context.Context, req Request) (*EnhancedAsset, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &EnhancedAsset{Data: []byte("ok"), MIME: "image/jpeg"}, nil
}

func TestWithRetrySingleAttemptReturnsInner(t *testing.T) {
	inner := &scriptedClient{}
	if got := WithRetry(inner, 1, time.Millisecond, nil); got != Client(inner) {
		t.Fatalf("expected inner client to be returned unchanged")
	}
}

func TestRetryingRecoversFromTransient(t *testing.T) {
	inner := &scriptedClient{errs: []error{Transient(503, "busy", nil), Transient(429, "slow down", nil)}}
	client := WithRetry(inner, 3, 0, nil)
	asset, err := client.Enhance(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if asset == nil || inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingStopsOnRejection(t *testing.T) {
	inner := &scriptedClient{errs: []error{Rejected(400, "bad input", nil)}}
	client := WithRetry(inner, 5, 0, nil)
	_, err := client.Enhance(context.Background(), Request{})
	if !errors.Is(err, domain.ErrRemoteRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("rejection must not be retried, calls=%d", inner.calls)
	}
}

func TestRetryingBoundsAttempts(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		Transient(503, "a", nil), Transient(503, "b", nil), Transient(503, "c", nil), Transient(503, "d", nil),
	}}
	client := WithRetry(inner, 3, 0, nil)
	_, err := client.Enhance(context.Background(), Request{})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryingHonoursContext(t *testing.T) {
	inner := &scriptedClient{errs: []error{Transient(503, "a", nil), Transient(503, "b", nil)}}
	client := WithRetry(inner, 3, time.Hour, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Enhance(ctx, Request{})
	if !IsTransient(err) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected backoff to be interrupted after first call, calls=%d", inner.calls)
	}
}
