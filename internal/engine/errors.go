package engine

import (
	"errors"
	"fmt"
)

var (
	ErrVolumeExceeded  = errors.New("operation exceeds the volume limit")
	ErrRateLimited     = errors.New("too many operations; slow down")
	ErrNoSelection     = errors.New("no region selected")
	ErrEmptyClipboard  = errors.New("clipboard is empty")
	ErrNoOperation     = errors.New("no operation given")
	ErrExecutionFailed = errors.New("operation failed")
	ErrClosed          = errors.New("engine closed")
)

// Validation reasons, also used as metric labels.
const (
	ReasonVolume    = "volume"
	ReasonRate      = "rate"
	ReasonParse     = "parse"
	ReasonSelection = "selection"
	ReasonClipboard = "clipboard"
	ReasonArgument  = "argument"
)

// ValidationError rejects a request before any work is scheduled.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request (%s): %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(reason string, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}
