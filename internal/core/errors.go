package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the service.
var (
	ErrUnknownType = errors.New("unknown type")
	ErrUnknownView = errors.New("unknown view")
	ErrJobNotFound = errors.New("import job not found")
	ErrNoRecord    = errors.New("record not found")
	ErrConflict    = errors.New("concurrent modification conflict")
)

// ConflictError reports that a unit of work lost a race with a concurrent
// writer. It is retryable: the whole unit is rolled back and re-run.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConflict, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConflict) match any ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsConflict reports whether err is a retryable conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ValidationError reports a row whose data was rejected. It is not retryable.
type ValidationError struct {
	Row     int    // 1-based data row, 0 when unknown
	Field   string // Field name, empty for row-level problems
	Value   string // Offending raw value
	RowText string // Source text of the row
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Row > 0 && e.Field != "":
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, msg)
	case e.Row > 0:
		return fmt.Sprintf("row %d: %s", e.Row, msg)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, msg)
	default:
		return msg
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// FormatError reports malformed delimited input. The job stops at the
// first one.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed input on line %d: %s", e.Line, e.Msg)
}

// TransportError reports a failure writing to the output sink, which ends
// an export. Output already flushed stays delivered.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("write output: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FatalError wraps a store failure that is neither a conflict nor a
// validation problem. It aborts the job.
type FatalError struct {
	Row int
	Err error
}

func (e *FatalError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }
