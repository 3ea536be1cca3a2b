package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference. When users encounter errors, they can quote the
// code to support staff for faster diagnosis.
//
// Codes are grouped by category:
//
//	CSV001-CSV099  malformed input and bad format options
//	VAL001-VAL099  row values that could not be converted
//	DB001-DB099    store constraint, connectivity and conflict errors
//	JOB001-JOB099  import job lifecycle
//	TYP001-TYP099  unknown types, views and records
//	EXP001-EXP099  export output failures
//	RATE001        request throttling
//	ERR000         anything else
//
// Typed errors are matched first; free-form errors fall back to substring
// patterns. The first match wins, so specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgMalformedCSV = UserMessage{
		Message: "The file is not valid delimited text",
		Action:  "Check quoting near the reported line and that the separator matches the file",
		Code:    "CSV001",
	}
	msgBadOptions = UserMessage{
		Message: "The import options are invalid",
		Action:  "Check the separator, quote character, commit interval and row range",
		Code:    "CSV002",
	}
	msgConflict = UserMessage{
		Message: "The data was changed by another operation while importing",
		Action:  "Please try again",
		Code:    "DB005",
	}
	msgTooManyJobs = UserMessage{
		Message: "Too many imports in progress",
		Action:  "Please wait a moment and try again",
		Code:    "JOB002",
	}
	msgJobNotFound = UserMessage{
		Message: "Import job not found",
		Action:  "The job may have expired. Please start a new import",
		Code:    "JOB003",
	}
	msgCancelled = UserMessage{
		Message: "The import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "JOB001",
	}
	msgTimeout = UserMessage{
		Message: "The operation timed out",
		Action:  "Try a smaller file or enable periodic commit",
		Code:    "JOB004",
	}
	msgUnknownType = UserMessage{
		Message: "Unknown record type",
		Action:  "Use one of the types listed by /api/types",
		Code:    "TYP001",
	}
	msgUnknownView = UserMessage{
		Message: "Unknown view for this record type",
		Action:  "Use one of the views listed by /api/types",
		Code:    "TYP002",
	}
	msgNoRecord = UserMessage{
		Message: "Record not found",
		Action:  "Check the id in the import result's location",
		Code:    "TYP003",
	}
	msgInvalidList = UserMessage{
		Message: "Invalid list value detected",
		Action:  `Use ["a","b"] or a comma-separated list`,
		Code:    "VAL009",
	}
	msgTransport = UserMessage{
		Message: "The export could not be delivered completely",
		Action:  "Download the export again",
		Code:    "EXP001",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// Validation
	{pattern: "invalid date", msg: UserMessage{Message: "Invalid date format detected", Action: "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024", Code: "VAL001"}},
	{pattern: "invalid number", msg: UserMessage{Message: "Invalid number format detected", Action: "Use a plain decimal number", Code: "VAL002"}},
	{pattern: "invalid integer", msg: UserMessage{Message: "Invalid whole number detected", Action: "Remove decimals from whole-number columns", Code: "VAL003"}},
	{pattern: "invalid boolean", msg: UserMessage{Message: "Invalid yes/no value detected", Action: "Use true/false, yes/no or 1/0", Code: "VAL004"}},
	{pattern: "required field", msg: UserMessage{Message: "Required field is empty", Action: "Ensure all required columns have values", Code: "VAL005"}},
	{pattern: "missing required column", msg: UserMessage{Message: "Required column is missing", Action: "Check that all required columns are present in your file", Code: "VAL006"}},
	{pattern: "must be one of", msg: UserMessage{Message: "Value is not in the allowed list", Action: "Check the allowed values for this field", Code: "VAL007"}},
	{pattern: "fields, header has", msg: UserMessage{Message: "A row has more values than the header has columns", Action: "Check for unquoted separators in the row", Code: "VAL008"}},
	{pattern: "invalid list", msg: msgInvalidList},
	{pattern: "invalid reference list", msg: msgInvalidList},

	// Store
	{pattern: "duplicate key", msg: UserMessage{Message: "A record with this key already exists", Action: "Review the file for duplicate keys", Code: "DB001"}},
	{pattern: "violates foreign key", msg: UserMessage{Message: "Referenced record does not exist", Action: "Import referenced records first", Code: "DB002"}},
	{pattern: "connection refused", msg: UserMessage{Message: "Unable to connect to database", Action: "Please try again in a few moments", Code: "DB003"}},
	{pattern: "connection reset", msg: UserMessage{Message: "Database connection was interrupted", Action: "Please try again", Code: "DB004"}},
	{pattern: "deadlock", msg: msgConflict},

	// Jobs and requests
	{pattern: "too many concurrent", msg: msgTooManyJobs},
	{pattern: "job not found", msg: msgJobNotFound},
	{pattern: "invalid row range", msg: msgBadOptions},
	{pattern: "timeout", msg: msgTimeout},

	// Rate limiting
	{pattern: "rate limit", msg: UserMessage{Message: "Too many requests", Action: "Please wait a moment before trying again", Code: "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check the logs for the original error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		fe *FormatError
		oe *OptionError
		te *TransportError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &fe):
		return msgMalformedCSV
	case errors.As(err, &oe):
		return msgBadOptions
	case IsConflict(err):
		return msgConflict
	case errors.Is(err, ErrTooManyJobs):
		return msgTooManyJobs
	case errors.Is(err, ErrJobNotFound):
		return msgJobNotFound
	case errors.Is(err, ErrUnknownType):
		return msgUnknownType
	case errors.Is(err, ErrUnknownView):
		return msgUnknownView
	case errors.Is(err, ErrNoRecord):
		return msgNoRecord
	case errors.As(err, &te):
		return msgTransport
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.As(err, &ve):
		// fall through to the patterns for the specific VAL code
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	if ve != nil {
		return UserMessage{Message: "A row contains an invalid value", Action: "Fix the reported row and import it again", Code: "VAL000"}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// OptionError reports invalid request options such as a bad separator.
type OptionError struct {
	Option string
	Err    error
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("invalid option %s: %v", e.Option, e.Err)
}

func (e *OptionError) Unwrap() error { return e.Err }
