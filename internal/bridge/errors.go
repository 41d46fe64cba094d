package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoTabs is returned by Connect when no page appears in time.
	ErrNoTabs = errors.New("no-tabs")
	// ErrEval matches every *EvalError.
	ErrEval = errors.New("eval-error")
	// ErrInject is returned when the bundle cannot be evaluated in the page.
	ErrInject = errors.New("inject-error")
	// ErrDetached is returned by page operations before Connect or after
	// the connection was released.
	ErrDetached = errors.New("bridge is not connected")
	// ErrBundleMissing is reported by HealthCheck when the page no longer
	// carries the injected bundle.
	ErrBundleMissing = errors.New("bundle is not present in page")
)

// EvalError is a JavaScript exception raised by evaluated code.
type EvalError struct {
	Description string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", ErrEval, e.Description)
}

func (e *EvalError) Is(target error) bool { return target == ErrEval }

// Reason explains why a session was lost.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonClosed   Reason = "closed"
	ReasonReloaded Reason = "reloaded"
	ReasonUnknown  Reason = "unknown"
)

// isDecodeError reports transport decode failures, which the game page
// produces occasionally and which do not indicate a broken session.
func isDecodeError(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syn) || errors.As(err, &typ)
}
