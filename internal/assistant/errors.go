package assistant

import (
	"errors"
	"fmt"
)

var (
	// ErrDatabase covers catalog reads, statement guard rejections and
	// statement execution.
	ErrDatabase = errors.New("database error")
	// ErrCompletion covers completion service failures.
	ErrCompletion = errors.New("completion service error")
	// ErrMalformedEvent marks inbound events that could not be decoded.
	ErrMalformedEvent = errors.New("malformed event")
)

type Stage string

const (
	StageInspect   Stage = "inspect"
	StageTranslate Stage = "translate"
	StageGuard     Stage = "guard"
	StageExecute   Stage = "execute"
	StageInternal  Stage = "internal"
)

// StageError is the failure of one pipeline stage. Its message is the
// underlying error's message, unchanged.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() []error {
	if kind := e.kind(); kind != nil {
		return []error{kind, e.Err}
	}
	return []error{e.Err}
}

func (e *StageError) kind() error {
	switch e.Stage {
	case StageInspect, StageGuard, StageExecute:
		return ErrDatabase
	case StageTranslate:
		return ErrCompletion
	default:
		return nil
	}
}

// ErrorReply is the text posted when a run fails.
func ErrorReply(err error) string {
	return fmt.Sprintf("Sorry, I encountered an error: %s", err.Error())
}
