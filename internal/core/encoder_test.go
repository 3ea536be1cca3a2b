package core

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.Register(*personType())
	return reg
}

func records(recs ...TypedRecord) iter.Seq2[TypedRecord, error] {
	return func(yield func(TypedRecord, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func person(values map[string]any) TypedRecord {
	return TypedRecord{Type: "Person", Values: values}
}

func TestExport_TwoRecords(t *testing.T) {
	var buf bytes.Buffer
	n, err := Export(context.Background(), &buf, testRegistry(t),
		records(person(map[string]any{"name": "Alice"}), person(map[string]any{"name": "Bob"})),
		ExportOptions{View: "public"})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "\"name\"\r\n\"Alice\"\r\n\"Bob\"\r\n", buf.String())
}

func TestExport_ColumnsAndAbsentValues(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(context.Background(), &buf, testRegistry(t),
		records(
			person(map[string]any{"name": "Al", "age": 3.0, "born": time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)}),
			person(map[string]any{"name": "Bo", "tags": []string{"x"}, "notes": nil}),
		),
		ExportOptions{View: "full", Separator: ','})

	require.NoError(t, err)
	want := `"name","age","active","born","tags","notes"` + "\r\n" +
		`"Al","3","","2020-01-02","",""` + "\r\n" +
		`"Bo","","","","[\"x\"]",""` + "\r\n"
	assert.Equal(t, want, buf.String())
}

func TestExport_BOM(t *testing.T) {
	t.Run("before header", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := Export(context.Background(), &buf, testRegistry(t),
			records(person(map[string]any{"name": "A"})), ExportOptions{WriteBOM: true})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(buf.String(), "\ufeff\"name\"\r\n"))
	})

	t.Run("no records still writes BOM only", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := Export(context.Background(), &buf, testRegistry(t), records(), ExportOptions{WriteBOM: true})
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, "\ufeff", buf.String())
	})
}

func TestExport_StripLineBreaks(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(context.Background(), &buf, testRegistry(t),
		records(person(map[string]any{"name": "a\r\nb"})), ExportOptions{StripLineBreaks: true})
	require.NoError(t, err)
	assert.Equal(t, "\"name\"\r\n\"ab\"\r\n", buf.String())
}

func TestExport_UnknownView(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(context.Background(), &buf, testRegistry(t),
		records(person(map[string]any{"name": "A"})), ExportOptions{View: "secret"})
	assert.ErrorIs(t, err, ErrUnknownView)
	assert.Empty(t, buf.String())
}

// flushCounter records how often it was flushed and fails writes after limit lines.
type flushCounter struct {
	bytes.Buffer
	flushes int
	limit   int
	writes  int
}

func (f *flushCounter) Write(p []byte) (int, error) {
	f.writes++
	if f.limit > 0 && f.writes > f.limit {
		return 0, errors.New("broken pipe")
	}
	return f.Buffer.Write(p)
}

func (f *flushCounter) Flush() {
	f.flushes++
}

func TestExport_FlushesEveryLine(t *testing.T) {
	out := &flushCounter{}
	_, err := Export(context.Background(), out, testRegistry(t),
		records(person(map[string]any{"name": "A"}), person(map[string]any{"name": "B"})), ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.flushes)
}

func TestExport_TransportErrorKeepsFlushedLines(t *testing.T) {
	out := &flushCounter{limit: 2}
	n, err := Export(context.Background(), out, testRegistry(t),
		records(
			person(map[string]any{"name": "A"}),
			person(map[string]any{"name": "B"}),
			person(map[string]any{"name": "C"}),
		), ExportOptions{})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, IsTransportError(err))
	assert.Equal(t, 1, n)
	assert.Equal(t, "\"name\"\r\n\"A\"\r\n", out.String())
}

func TestExport_RecordSourceError(t *testing.T) {
	failing := func(yield func(TypedRecord, error) bool) {
		if !yield(person(map[string]any{"name": "A"}), nil) {
			return
		}
		yield(TypedRecord{}, errors.New("cursor closed"))
	}

	var buf bytes.Buffer
	n, err := Export(context.Background(), &buf, testRegistry(t), failing, ExportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor closed")
	assert.Equal(t, 1, n)
}

func TestRoundTrip(t *testing.T) {
	desc := personType()
	reg := NewRegistry()
	reg.Register(*desc)

	originals := []TypedRecord{
		person(map[string]any{
			"name":   "Alice",
			"age":    30.5,
			"active": true,
			"born":   time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC),
			"tags":   []string{"a", `b"c`, "d,e", `C:\temp`, `a\b`},
			"notes":  "line one\nline \"two\"; three, four",
		}),
		person(map[string]any{
			"name":   "Bob",
			"age":    float64(25),
			"active": false,
			"born":   time.Date(2001, 12, 1, 0, 0, 0, 0, time.UTC),
			"tags":   []string{},
			"notes":  `quote " only, \\server\share`,
		}),
	}

	for _, sep := range []rune{';', ',', '\t'} {
		t.Run(string(sep), func(t *testing.T) {
			var buf bytes.Buffer
			_, err := Export(context.Background(), &buf, reg, records(originals...), ExportOptions{View: "full", Separator: sep})
			require.NoError(t, err)

			dec, err := NewDecoder(&buf, desc, DecodeOptions{Separator: sep})
			require.NoError(t, err)

			i := 0
			for row, err := range dec.Rows() {
				require.NoError(t, err)
				rec, err := BuildRecord(desc, row)
				require.NoError(t, err)
				for field, want := range originals[i].Values {
					assert.Equal(t, want, rec.Values[field], "record %d field %s", i, field)
				}
				i++
			}
			assert.Equal(t, len(originals), i)
		})
	}
}

func TestEscapingIdempotence(t *testing.T) {
	values := []string{
		`"`,
		`a "quoted", value`,
		"multi\nline, \"mixed\"",
		`;;;`,
		`""""`,
		`\\server\share`,
		`a\b\\c`,
	}

	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := Export(context.Background(), &buf, testRegistry(t),
				records(person(map[string]any{"name": v})), ExportOptions{})
			require.NoError(t, err)

			dec, err := NewDecoder(&buf, personType(), DecodeOptions{})
			require.NoError(t, err)
			row, err := dec.Next()
			require.NoError(t, err)
			got, _ := row.Get("name")
			assert.Equal(t, v, got)
		})
	}
}

func TestTrailingBackslashIsFormatError(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(context.Background(), &buf, testRegistry(t),
		records(person(map[string]any{"name": `ends with \`})), ExportOptions{})
	require.NoError(t, err)

	dec, err := NewDecoder(&buf, personType(), DecodeOptions{})
	require.NoError(t, err)
	_, err = dec.Next()
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}
