package domain

import (
	"context"
	"errors"
)

// Sentinel errors for domain operations
var (
	// ErrNetwork indicates the remote service is unreachable, timed out, or failed transiently
	ErrNetwork = errors.New("remote service is unreachable")

	// ErrRateLimited indicates the remote service rejected the call for exceeding its quota
	ErrRateLimited = errors.New("remote service rate limit exceeded")

	// ErrNotFound indicates the requested item does not exist
	ErrNotFound = errors.New("item not found")

	// ErrMalformedResponse indicates a payload could not be decoded
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnauthenticated indicates there is no current user scope or the credentials were rejected
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrConflict indicates the item is already saved
	ErrConflict = errors.New("item already saved")

	// ErrInvalidQuery indicates blank or too-short search text
	ErrInvalidQuery = errors.New("invalid search query")
)

// ErrorKind is the coarse classification callers switch on
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransientNetwork
	KindNotFound
	KindMalformedResponse
	KindUnauthenticated
	KindConflict
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientNetwork:
		return "TransientNetworkFailure"
	case KindNotFound:
		return "NotFound"
	case KindMalformedResponse:
		return "MalformedResponse"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindConflict:
		return "Conflict"
	case KindInvalidInput:
		return "InvalidInput"
	default:
		return "Unknown"
	}
}

// KindOf classifies err. nil maps to KindUnknown.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrRateLimited),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransientNetwork
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidQuery):
		return KindInvalidInput
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether the caller may retry the operation
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientNetwork
}
