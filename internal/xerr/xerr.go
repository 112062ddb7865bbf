// Package xerr classifies the error kinds the engine's components return,
// per the error-handling design: no exception types, just errors.Is-
// compatible sentinel wrapping so callers can branch on retry policy.
package xerr

import "errors"

// Kind is one of the six error classes the engine distinguishes.
type Kind error

var (
	// TransientIO marks exchange/advisor/news HTTP 5xx or timeout errors.
	// Retryable with exponential backoff.
	TransientIO Kind = errors.New("transient I/O error")

	// PermanentIO marks HTTP 4xx responses. Never retried.
	PermanentIO Kind = errors.New("permanent I/O error")

	// ParseFailure marks a malformed advisor JSON reply. Callers must
	// collapse this into a safe no-op verdict, never propagate it raw.
	ParseFailure Kind = errors.New("parse failure")

	// PreconditionViolated marks an Executor gate rejection (capacity,
	// duplicate position, cooldown, insufficient capital, DCA would raise
	// average, DCA above tier max). No state change, no retry.
	PreconditionViolated Kind = errors.New("precondition violated")

	// StoreFailure marks a DB transaction rollback. The action for that
	// signal is aborted; the cycle continues with the next signal.
	StoreFailure Kind = errors.New("store failure")

	// Fatal marks a startup failure (DB or exchange unreachable). The
	// process should abort with a non-zero exit.
	Fatal Kind = errors.New("fatal error")
)

// Wrap annotates err with kind so errors.Is(wrapped, kind) succeeds while
// the original message and %w chain are preserved.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return &classified{kind: kind, msg: msg}
	}
	return &classified{kind: kind, msg: msg, cause: err}
}

type classified struct {
	kind  Kind
	msg   string
	cause error
}

func (c *classified) Error() string {
	if c.cause == nil {
		return c.msg
	}
	return c.msg + ": " + c.cause.Error()
}

func (c *classified) Unwrap() error {
	if c.cause != nil {
		return c.cause
	}
	return c.kind
}

func (c *classified) Is(target error) bool {
	return c.kind == target
}

// Is reports whether err (or anything it wraps) was classified as kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
