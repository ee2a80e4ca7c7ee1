package instrument

import (
	"errors"
	"fmt"

	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/flow"
)

// Rewrite error kinds. Test with errors.Is.
var (
	// ErrUnsupported marks a construct the rewriter cannot instrument
	// without changing program semantics.
	ErrUnsupported = errors.New("unsupported construct")
	// ErrTypeMismatch marks a flow state that contradicts the instruction
	// being rewritten.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrVerify marks rewritten code that fails flow analysis.
	ErrVerify = errors.New("verification failed")
)

// RewriteError aborts the rewrite of one unit. The orchestrator records it
// and falls back to the original unit.
type RewriteError struct {
	Unit   string
	Method string
	Index  int // instruction index in the stage input, -1 if not known
	Kind   error
	Detail string
	Err    error // underlying cause, e.g. a *flow.Error
}

func (e *RewriteError) Error() string {
	var where string
	switch {
	case e.Method == "":
		where = e.Unit
	case e.Index < 0:
		where = e.Unit + "." + e.Method
	default:
		where = fmt.Sprintf("%s.%s at %d", e.Unit, e.Method, e.Index)
	}
	msg := fmt.Sprintf("instrument: %s: %v", where, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error kind.
func (e *RewriteError) Is(target error) bool {
	return target == e.Kind
}

func (e *RewriteError) Unwrap() error {
	return e.Err
}

// verifyError wraps a flow analysis failure of method m.
func verifyError(unit string, m *bytecode.Method, detail string, err error) *RewriteError {
	re := &RewriteError{Unit: unit, Method: m.String(), Index: -1, Kind: ErrVerify, Detail: detail, Err: err}
	var ferr *flow.Error
	if errors.As(err, &ferr) {
		re.Index = ferr.Index
	}
	return re
}

// IsRewriteError reports whether err aborts a single unit rather than the
// whole run.
func IsRewriteError(err error) bool {
	var re *RewriteError
	return errors.As(err, &re)
}
