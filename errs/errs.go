package errs

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindInvalidSize
	KindAuth
	KindClient
	KindServer
	KindIntegrity
	KindInconsistentState
	KindIO
	KindSessionNotFound
	KindSessionLocked
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:           "UnknownError",
	KindConfig:            "ConfigError",
	KindInvalidSize:       "InvalidSizeError",
	KindAuth:              "AuthError",
	KindClient:            "ClientError",
	KindServer:            "ServerError",
	KindIntegrity:         "IntegrityError",
	KindInconsistentState: "InconsistentStateError",
	KindIO:                "IOError",
	KindSessionNotFound:   "SessionNotFoundError",
	KindSessionLocked:     "SessionLockedError",
	KindCanceled:          "CanceledError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error carries the failure kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
// Context cancellation is reported as KindCanceled even when unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the transport may repeat the same request.
func IsRetryable(err error) bool {
	return KindOf(err) == KindServer
}

// IsResumable reports whether a session that failed with err can be picked up
// again later against the same remote upload.
// Auth counts as resumable, the remote upload is left for a resume with a
// valid token.
func IsResumable(err error) bool {
	switch KindOf(err) {
	case KindServer, KindAuth, KindIO, KindSessionLocked:
		return true
	}
	return false
}
