package core

// decoder.go turns a delimited-text stream into a lazy sequence of RawRows.
//
// The decoder is pull-based: nothing is read until the caller asks for the
// next row, and only the current row's fields are held in memory. Quoted
// fields may contain the separator, line breaks, doubled quotes and
// backslash-escaped quotes. A backslash not followed by the quote character
// is kept as is.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
)

// Default wire format characters.
const (
	DefaultSeparator = ';'
	DefaultQuote     = '"'
)

// DecodeOptions configures a Decoder.
type DecodeOptions struct {
	Separator rune   // Field separator (DefaultSeparator if 0)
	Quote     rune   // Quote character (DefaultQuote if 0)
	Range     string // Optional 1-based inclusive data row range: "2-3", "5-", "5"
}

// RowRange is an inclusive range of 1-based data row numbers. End 0 means unbounded.
type RowRange struct {
	Start int
	End   int
}

// ParseRowRange parses "start-end", "start-", "-end" or "start".
// An empty string selects every row.
func ParseRowRange(s string) (RowRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RowRange{Start: 1}, nil
	}

	startStr, endStr, _ := strings.Cut(s, "-")
	rng := RowRange{Start: 1}

	if startStr = strings.TrimSpace(startStr); startStr != "" {
		n, err := strconv.Atoi(startStr)
		if err != nil || n < 1 {
			return RowRange{}, fmt.Errorf("invalid row range %q: start must be a positive integer", s)
		}
		rng.Start = n
	}
	if endStr = strings.TrimSpace(endStr); endStr != "" {
		n, err := strconv.Atoi(endStr)
		if err != nil || n < 1 {
			return RowRange{}, fmt.Errorf("invalid row range %q: end must be a positive integer", s)
		}
		rng.End = n
	}
	if rng.End > 0 && rng.End < rng.Start {
		return RowRange{}, fmt.Errorf("invalid row range %q: end before start", s)
	}
	return rng, nil
}

// Contains reports whether row n is selected.
func (r RowRange) Contains(n int) bool {
	return n >= r.Start && (r.End == 0 || n <= r.End)
}

// RowSource yields rows one at a time and returns io.EOF after the last one.
type RowSource interface {
	Next() (RawRow, error)
}

type fieldEnd int

const (
	endOfField fieldEnd = iota
	endOfRecord
	endOfInput
)

// Decoder reads RawRows from a delimited-text stream. It is not safe for
// concurrent use.
type Decoder struct {
	r     *bufio.Reader
	desc  *TypeDescriptor
	sep   rune
	quote rune
	rng   RowRange

	columns []string
	line    int // current source line, 1-based
	index   int // data rows seen so far, including skipped ones
	err     error

	field strings.Builder
	text  strings.Builder
}

// NewDecoder returns a decoder reading rows of desc from r.
func NewDecoder(r io.Reader, desc *TypeDescriptor, opts DecodeOptions) (*Decoder, error) {
	if desc == nil {
		return nil, errors.New("decoder: type descriptor is required")
	}

	sep, quote := opts.Separator, opts.Quote
	if sep == 0 {
		sep = DefaultSeparator
	}
	if quote == 0 {
		quote = DefaultQuote
	}
	switch {
	case sep == quote:
		return nil, fmt.Errorf("decoder: separator and quote must differ (both %q)", sep)
	case sep == '\r' || sep == '\n' || quote == '\r' || quote == '\n':
		return nil, errors.New("decoder: separator and quote cannot be line breaks")
	case sep == '\\' || quote == '\\':
		return nil, errors.New("decoder: backslash is reserved for escapes")
	}

	rng, err := ParseRowRange(opts.Range)
	if err != nil {
		return nil, err
	}

	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}

	return &Decoder{
		r:     br,
		desc:  desc,
		sep:   sep,
		quote: quote,
		rng:   rng,
		line:  1,
	}, nil
}

// Header returns the canonical column names, reading the header line on
// first use. Columns matching a declared field (case-insensitively, after
// cleanup) take the field's name; other columns keep their own name.
func (d *Decoder) Header() ([]string, error) {
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d.columns, nil
}

// Next returns the next row inside the configured range, or io.EOF.
func (d *Decoder) Next() (RawRow, error) {
	if d.err != nil {
		return RawRow{}, d.err
	}
	if err := d.readHeader(); err != nil {
		d.err = err
		return RawRow{}, err
	}

	for {
		if d.rng.End > 0 && d.index >= d.rng.End {
			d.err = io.EOF
			return RawRow{}, io.EOF
		}

		wanted := d.rng.Contains(d.index + 1)
		line := d.line
		values, blank, err := d.readRecord(wanted)
		if err != nil {
			d.err = err
			return RawRow{}, err
		}
		if blank {
			continue
		}

		d.index++
		if !wanted {
			continue
		}

		return RawRow{
			Index:   d.index,
			Line:    line,
			Columns: d.columns,
			Values:  values,
			Text:    d.text.String(),
		}, nil
	}
}

// Rows returns the remaining rows as a single-use sequence. Iteration stops
// after the first error, which is yielded with a zero row.
func (d *Decoder) Rows() iter.Seq2[RawRow, error] {
	return func(yield func(RawRow, error) bool) {
		for {
			row, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(RawRow{}, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (d *Decoder) readHeader() error {
	if d.columns != nil {
		return nil
	}

	for {
		fields, blank, err := d.readRecord(true)
		if err != nil {
			return err
		}
		if blank {
			continue
		}

		fields[0] = strings.TrimPrefix(fields[0], "\ufeff")
		columns := make([]string, len(fields))
		for i, h := range fields {
			name := CleanCell(h)
			if spec, ok := d.desc.Field(name); ok {
				name = spec.Name
			}
			columns[i] = name
		}
		d.columns = columns
		return nil
	}
}

// readRecord reads one record. When collect is false the record is only
// scanned for its boundaries and no values are built.
func (d *Decoder) readRecord(collect bool) (fields []string, blank bool, err error) {
	d.text.Reset()
	consumed := false

	for {
		value, end, n, err := d.readField(collect)
		if err != nil {
			return nil, false, err
		}
		if n > 0 || end == endOfField {
			consumed = true
		}
		if collect {
			fields = append(fields, value)
		}

		switch end {
		case endOfRecord:
			return fields, !consumed, nil
		case endOfInput:
			if !consumed {
				return nil, false, io.EOF
			}
			return fields, false, nil
		}
	}
}

// readField reads one field and reports what ended it and how many
// characters it consumed, excluding the terminator.
func (d *Decoder) readField(collect bool) (string, fieldEnd, int, error) {
	d.field.Reset()

	r, _, err := d.r.ReadRune()
	if errors.Is(err, io.EOF) {
		return "", endOfInput, 0, nil
	}
	if err != nil {
		return "", 0, 0, err
	}
	if r == d.quote {
		d.emit(r, collect)
		return d.readQuoted(collect)
	}
	if err := d.r.UnreadRune(); err != nil {
		return "", 0, 0, err
	}
	return d.readUnquoted(collect)
}

func (d *Decoder) readUnquoted(collect bool) (string, fieldEnd, int, error) {
	n := 0
	for {
		r, _, err := d.r.ReadRune()
		if errors.Is(err, io.EOF) {
			return d.value(collect), endOfInput, n, nil
		}
		if err != nil {
			return "", 0, n, err
		}

		switch r {
		case d.sep:
			d.emit(r, collect)
			return d.value(collect), endOfField, n, nil
		case '\n':
			d.line++
			return d.value(collect), endOfRecord, n, nil
		case '\r':
			if err := d.skipLF(); err != nil {
				return "", 0, n, err
			}
			d.line++
			return d.value(collect), endOfRecord, n, nil
		}

		n++
		d.emit(r, collect)
		d.keep(r, collect)
	}
}

func (d *Decoder) readQuoted(collect bool) (string, fieldEnd, int, error) {
	startLine := d.line
	n := 1
	unterminated := &FormatError{Line: startLine, Msg: "unterminated quoted field"}

	for {
		r, _, err := d.r.ReadRune()
		if errors.Is(err, io.EOF) {
			return "", 0, n, unterminated
		}
		if err != nil {
			return "", 0, n, err
		}
		n++

		switch r {
		case '\\':
			next, _, err := d.r.ReadRune()
			if errors.Is(err, io.EOF) {
				return "", 0, n, unterminated
			}
			if err != nil {
				return "", 0, n, err
			}
			d.emit(r, collect)
			if next == d.quote {
				n++
				d.emit(next, collect)
				d.keep(next, collect)
				continue
			}
			if err := d.r.UnreadRune(); err != nil {
				return "", 0, n, err
			}
			d.keep(r, collect)

		case d.quote:
			d.emit(r, collect)
			next, _, err := d.r.ReadRune()
			if errors.Is(err, io.EOF) {
				return d.value(collect), endOfInput, n, nil
			}
			if err != nil {
				return "", 0, n, err
			}

			switch next {
			case d.quote:
				n++
				d.emit(next, collect)
				d.keep(next, collect)
				continue
			case d.sep:
				d.emit(next, collect)
				return d.value(collect), endOfField, n, nil
			case '\n':
				d.line++
				return d.value(collect), endOfRecord, n, nil
			case '\r':
				if err := d.skipLF(); err != nil {
					return "", 0, n, err
				}
				d.line++
				return d.value(collect), endOfRecord, n, nil
			default:
				return "", 0, n, &FormatError{
					Line: d.line,
					Msg:  fmt.Sprintf("unexpected %q after closing quote", next),
				}
			}

		default:
			if r == '\n' {
				d.line++
			}
			d.emit(r, collect)
			d.keep(r, collect)
		}
	}
}

// skipLF consumes the LF of a CRLF pair.
func (d *Decoder) skipLF() error {
	r, _, err := d.r.ReadRune()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	if r != '\n' {
		return d.r.UnreadRune()
	}
	return nil
}

// emit records r as part of the row's source text.
func (d *Decoder) emit(r rune, collect bool) {
	if collect {
		d.text.WriteRune(r)
	}
}

// keep appends r to the current field value.
func (d *Decoder) keep(r rune, collect bool) {
	if collect {
		d.field.WriteRune(r)
	}
}

func (d *Decoder) value(collect bool) string {
	if !collect {
		return ""
	}
	return d.field.String()
}
