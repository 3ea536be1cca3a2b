package core

import (
	"context"
	"errors"
	"fmt"
)

// BuildRecord converts a raw row into a typed record using the type's
// field parsers. Empty values are left out of the record. Any conversion
// failure is returned as a *ValidationError carrying the row's source text.
func BuildRecord(desc *TypeDescriptor, row RawRow) (TypedRecord, error) {
	if len(row.Values) > len(row.Columns) {
		return TypedRecord{}, &ValidationError{
			Row:     row.Index,
			RowText: row.Text,
			Message: fmt.Sprintf("row has %d fields, header has %d", len(row.Values), len(row.Columns)),
		}
	}

	for _, spec := range desc.FieldSpecs {
		if !spec.Required || spec.AllowEmpty {
			continue
		}
		if _, ok := row.Get(spec.Name); !ok {
			return TypedRecord{}, &ValidationError{
				Row:     row.Index,
				Field:   spec.Name,
				RowText: row.Text,
				Message: "missing required column",
			}
		}
	}

	rec := TypedRecord{
		Type:   desc.Name,
		Values: make(map[string]any, len(row.Columns)),
	}
	for i, col := range row.Columns {
		if i >= len(row.Values) || col == "" {
			continue
		}
		v, err := desc.ParseField(col, row.Values[i])
		if err != nil {
			return TypedRecord{}, tagRow(err, row)
		}
		if v != nil {
			rec.Values[col] = v
		}
	}
	return rec, nil
}

// Apply converts one row and issues a single write. Store errors are passed
// on classified: conflicts and validation errors keep their type, anything
// else becomes a *FatalError. Apply never retries.
func Apply(ctx context.Context, w Writer, desc *TypeDescriptor, row RawRow) (ObjectRef, error) {
	rec, err := BuildRecord(desc, row)
	if err != nil {
		return ObjectRef{}, err
	}

	ref, err := w.Write(ctx, desc, rec)
	if err != nil {
		return ObjectRef{}, classifyWriteError(err, row)
	}
	return ref, nil
}

func classifyWriteError(err error, row RawRow) error {
	var ve *ValidationError
	switch {
	case IsConflict(err):
		return err
	case errors.As(err, &ve):
		return tagRow(err, row)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &FatalError{Row: row.Index, Err: err}
	}
}

// tagRow attaches the row number and text to a validation error.
func tagRow(err error, row RawRow) error {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Row: row.Index, RowText: row.Text, Err: err}
	}
	tagged := *ve
	if tagged.Row == 0 {
		tagged.Row = row.Index
	}
	if tagged.RowText == "" {
		tagged.RowText = row.Text
	}
	return &tagged
}
