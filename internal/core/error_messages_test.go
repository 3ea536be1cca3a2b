package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil", nil, ""},
		{"format error", &FormatError{Line: 3, Msg: "unterminated quoted field"}, "CSV001"},
		{"option error", &OptionError{Option: "separator", Err: errors.New("must be one character")}, "CSV002"},
		{"wrapped conflict", fmt.Errorf("chunk 2: %w", &ConflictError{}), "DB005"},
		{"too many jobs", ErrTooManyJobs, "JOB002"},
		{"job not found", fmt.Errorf("%w: abc", ErrJobNotFound), "JOB003"},
		{"unknown type", fmt.Errorf("%w: Widget", ErrUnknownType), "TYP001"},
		{"unknown view", fmt.Errorf("%w: secret", ErrUnknownView), "TYP002"},
		{"missing record", fmt.Errorf("%w: Person p9", ErrNoRecord), "TYP003"},
		{"transport", &TransportError{Err: errors.New("broken pipe")}, "EXP001"},
		{"cancelled", context.Canceled, "JOB001"},
		{"deadline", fmt.Errorf("chunk 9: %w", context.DeadlineExceeded), "JOB004"},

		{"invalid date", &ValidationError{Row: 2, Field: "born", Message: `invalid date "x"`}, "VAL001"},
		{"invalid number", &ValidationError{Row: 2, Field: "age", Message: `invalid number "abc"`}, "VAL002"},
		{"invalid integer", &ValidationError{Row: 2, Field: "n", Message: `invalid integer "1.5"`}, "VAL003"},
		{"invalid boolean", &ValidationError{Row: 2, Field: "b", Message: `invalid boolean "maybe"`}, "VAL004"},
		{"required field", &ValidationError{Row: 2, Field: "name", Message: "required field is empty"}, "VAL005"},
		{"missing column", &ValidationError{Row: 2, Field: "age", Message: "missing required column"}, "VAL006"},
		{"enum", &ValidationError{Row: 2, Field: "state", Message: "must be one of: a, b"}, "VAL007"},
		{"too many fields", &ValidationError{Row: 2, Message: "row has 3 fields, header has 2"}, "VAL008"},
		{"invalid list", &ValidationError{Row: 2, Field: "tags", Message: `invalid list "x"`}, "VAL009"},
		{"invalid reference list", &ValidationError{Row: 2, Field: "friends", Message: `invalid reference list "x"`}, "VAL009"},
		{"store validation", &ValidationError{Row: 2, Err: errors.New("duplicate key value violates unique constraint")}, "DB001"},
		{"unmatched validation", &ValidationError{Row: 2, Message: "odd"}, "VAL000"},

		{"foreign key", errors.New("insert violates foreign key constraint"), "DB002"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB003"},
		{"connection reset", errors.New("read: connection reset by peer"), "DB004"},
		{"deadlock text", errors.New("deadlock detected"), "DB005"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, MapError(tt.err).Code)
		})
	}
}

func TestMapError_MessagesAreFilled(t *testing.T) {
	for _, ep := range errorPatterns {
		assert.NotEmpty(t, ep.msg.Message, ep.pattern)
		assert.NotEmpty(t, ep.msg.Action, ep.pattern)
		assert.NotEmpty(t, ep.msg.Code, ep.pattern)
	}
}

func TestFormatUserError(t *testing.T) {
	assert.Empty(t, FormatUserError(nil))
	assert.Equal(t,
		"Too many imports in progress (Code: JOB002). Please wait a moment and try again",
		FormatUserError(ErrTooManyJobs))
}

func TestIsUserFacing(t *testing.T) {
	assert.False(t, IsUserFacing(nil))
	assert.False(t, IsUserFacing(errors.New("boom")))
	assert.True(t, IsUserFacing(&FormatError{Line: 1, Msg: "x"}))
}
