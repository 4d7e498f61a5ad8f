package enhance

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
)

// Retrying retries transient failures of the wrapped client a bounded number
// of times. Rejections are returned immediately.
type Retrying struct {
	next        Client
	maxAttempts int
	backoff     time.Duration
	logger      *infra.Logger
}

// WithRetry wraps next. maxAttempts <= 1 returns next unchanged, which keeps
// the single-attempt behaviour.
func WithRetry(next Client, maxAttempts int, backoff time.Duration, logger *infra.Logger) Client {
	if maxAttempts <= 1 {
		return next
	}
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Retrying{next: next, maxAttempts: maxAttempts, backoff: backoff, logger: logger}
}

func (r *Retrying) Enhance(ctx context.Context, req Request) (*EnhancedAsset, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		asset, err := r.next.Enhance(ctx, req)
		if err == nil {
			return asset, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == r.maxAttempts {
			break
		}
		r.logger.Warn().
			Err(err).
			Str("request_id", req.RequestID).
			Int("attempt", attempt).
			Msg("enhance: transient failure, retrying")
		wait := time.Duration(attempt) * r.backoff
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		}
	}
	return nil, lastErr
}

var _ Client = (*Retrying)(nil)
