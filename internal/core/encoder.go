package core

// encoder.go renders typed records as delimited text.
//
// Output is written one line at a time and flushed after every line, so a
// client streaming the response sees rows as they are produced and memory
// holds at most one record and the header.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// LineTerminator ends every exported line.
const LineTerminator = "\r\n"

// utf8BOM is written before the header when requested.
const utf8BOM = "\ufeff"

// ExportOptions configures an Encoder. Each export carries its own copy.
type ExportOptions struct {
	Separator       rune   // Field separator (DefaultSeparator if 0)
	View            string // View used to resolve the column list
	StripLineBreaks bool   // Remove line breaks from values instead of normalizing them
	WriteBOM        bool   // Emit a UTF-8 byte-order mark first
	NestedSeparator string // Separator between array elements ("," if empty)
}

type flusher interface {
	Flush()
}

type errFlusher interface {
	Flush() error
}

// Encoder writes records of a single type to w.
type Encoder struct {
	w        io.Writer
	resolver ViewResolver
	opts     ExportOptions

	fields  []string
	layouts []string
	rows    int
	line    strings.Builder
}

// NewEncoder returns an encoder that resolves its columns through resolver.
func NewEncoder(w io.Writer, resolver ViewResolver, opts ExportOptions) *Encoder {
	if opts.Separator == 0 {
		opts.Separator = DefaultSeparator
	}
	return &Encoder{w: w, resolver: resolver, opts: opts}
}

// Rows returns the number of data lines written.
func (e *Encoder) Rows() int {
	return e.rows
}

// Fields returns the resolved column list, or nil before the first record.
func (e *Encoder) Fields() []string {
	return e.fields
}

// WriteBOM writes the UTF-8 byte-order mark.
func (e *Encoder) WriteBOM() error {
	return e.writeLine(utf8BOM, false)
}

// Encode writes rec as one line. The first call resolves the view for the
// record's type and writes the header; later records are assumed to share
// that column set.
func (e *Encoder) Encode(rec TypedRecord) error {
	if e.fields == nil {
		if err := e.writeHeader(rec.Type); err != nil {
			return err
		}
	}

	e.line.Reset()
	for i, field := range e.fields {
		if i > 0 {
			e.line.WriteRune(e.opts.Separator)
		}
		e.line.WriteByte('"')
		if v, ok := rec.Values[field]; ok && v != nil {
			e.line.WriteString(EncodeValue(v, EncodeOptions{
				NestedSeparator: e.opts.NestedSeparator,
				DateFormat:      e.layouts[i],
				StripLineBreaks: e.opts.StripLineBreaks,
			}))
		}
		e.line.WriteByte('"')
	}

	if err := e.writeLine(e.line.String(), true); err != nil {
		return err
	}
	e.rows++
	return nil
}

func (e *Encoder) writeHeader(typeName string) error {
	fields, err := e.resolver.FieldsForView(typeName, e.opts.View)
	if err != nil {
		return fmt.Errorf("resolve view %q of %s: %w", e.opts.View, typeName, err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("view %q of %s has no fields: %w", e.opts.View, typeName, ErrUnknownView)
	}

	layouts := make([]string, len(fields))
	df, _ := e.resolver.(DateFormatter)
	for i, f := range fields {
		layouts[i] = DefaultDateFormat
		if df != nil {
			if l := df.DateFormat(typeName, f); l != "" {
				layouts[i] = l
			}
		}
	}

	e.line.Reset()
	for i, f := range fields {
		if i > 0 {
			e.line.WriteRune(e.opts.Separator)
		}
		e.line.WriteByte('"')
		e.line.WriteString(f)
		e.line.WriteByte('"')
	}
	if err := e.writeLine(e.line.String(), true); err != nil {
		return err
	}

	e.fields = fields
	e.layouts = layouts
	return nil
}

// writeLine writes s (plus the terminator) and flushes the sink.
func (e *Encoder) writeLine(s string, terminate bool) error {
	if terminate {
		s += LineTerminator
	}
	if _, err := io.WriteString(e.w, s); err != nil {
		return &TransportError{Err: err}
	}

	switch f := e.w.(type) {
	case errFlusher:
		if err := f.Flush(); err != nil {
			return &TransportError{Err: err}
		}
	case flusher:
		f.Flush()
	}
	return nil
}

// Export streams records to w. The byte-order mark, if requested, is
// written even when there are no records; the header is written only once
// the first record arrives. On a transport failure everything flushed so
// far stays delivered. It returns the number of data lines written.
func Export(ctx context.Context, w io.Writer, resolver ViewResolver, records iter.Seq2[TypedRecord, error], opts ExportOptions) (int, error) {
	enc := NewEncoder(w, resolver, opts)

	if opts.WriteBOM {
		if err := enc.WriteBOM(); err != nil {
			return 0, err
		}
	}

	for rec, err := range records {
		if err != nil {
			return enc.Rows(), fmt.Errorf("read records: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return enc.Rows(), err
		}
		if err := enc.Encode(rec); err != nil {
			return enc.Rows(), err
		}
	}

	return enc.Rows(), nil
}

// IsTransportError reports whether err came from writing the output.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
