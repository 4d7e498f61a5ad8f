package enhance

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// Request describes one image to enhance.
type Request struct {
	Asset       domain.SourceAsset
	Model       string
	Resolution  domain.Resolution
	AspectRatio string
	RequestID   string
}

// EnhancedAsset is the normalized provider output.
type EnhancedAsset struct {
	URL    string
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Client is the contract implemented by every enhancement provider. A call is
// a single attempt; retries are opt-in through Retrying.
type Client interface {
	Enhance(ctx context.Context, req Request) (*EnhancedAsset, error)
}

// ErrorKind separates failures worth retrying from permanent ones.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindRejected  ErrorKind = "rejected"
)

// RemoteError is returned by providers for every failed call.
type RemoteError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("enhance: %s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("enhance: %s: %s", e.Kind, msg)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is lets callers match with domain.ErrRemoteTransient / domain.ErrRemoteRejected.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case domain.ErrRemoteTransient:
		return e.Kind == KindTransient
	case domain.ErrRemoteRejected:
		return e.Kind == KindRejected
	}
	return false
}

// Transient builds a retryable RemoteError.
func Transient(status int, msg string, err error) *RemoteError {
	return &RemoteError{Kind: KindTransient, StatusCode: status, Message: msg, Err: err}
}

// Rejected builds a permanent RemoteError.
func Rejected(status int, msg string, err error) *RemoteError {
	return &RemoteError{Kind: KindRejected, StatusCode: status, Message: msg, Err: err}
}

// KindForStatus classifies an HTTP status code.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return KindTransient
	default:
		return KindRejected
	}
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrRemoteTransient)
}
