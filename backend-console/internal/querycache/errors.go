package querycache

import (
	"errors"
	"fmt"

	"github.com/Ebrudra/desk-access-hub/pkg/retry"
)

// QueryError codes
const (
	CodeFetchFailed  = "fetch_failed"
	CodePanic        = "panic"
	CodeCanceled     = "canceled"
	CodeClosed       = "closed"
	CodeTypeMismatch = "type_mismatch"
)

// QueryError is the structured error every failed read returns
type QueryError struct {
	Key      string `json:"key"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
	Err      error  `json:"-"`
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %s", e.Key, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("fetch panicked: %v", p.value)
}

func newQueryError(key string, res *retry.Result) *QueryError {
	cause := res.Cause()
	qe := &QueryError{Key: key, Code: CodeFetchFailed, Attempts: res.Attempts, Err: cause, Message: cause.Error()}

	var pe *panicError
	switch {
	case errors.As(cause, &pe):
		qe.Code = CodePanic
	case errors.Is(res.Err, retry.ErrContextCanceled):
		qe.Code = CodeCanceled
	}
	return qe
}
