package core

// codec.go renders single field values for delimited-text export.
//
// The codec is encode-only. Quoted-field parsing on the way back in is the
// decoder's job, and it undoes exactly the escapes written here.

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EncodeOptions controls how a single value is rendered.
type EncodeOptions struct {
	// NestedSeparator joins the elements of array and reference values.
	NestedSeparator string
	// DateFormat is the layout for time values (DefaultDateFormat if empty).
	DateFormat string
	// StripLineBreaks removes CR and CRLF instead of normalizing them to LF.
	StripLineBreaks bool
}

// EncodeValue renders v for placement inside a quoted field.
//
// String arrays become a bracketed list of backslash-quoted elements whose
// own quotes are escaped; reference collections are rendered the same way
// from each reference's textual form. Times use the supplied layout. Any
// other value is rendered in its natural string form with `"` escaped as
// `\"`. Line breaks are normalized or stripped last, whatever branch ran.
func EncodeValue(v any, opts EncodeOptions) string {
	sep := opts.NestedSeparator
	if sep == "" {
		sep = ","
	}

	var s string
	switch val := v.(type) {
	case nil:
		s = ""
	case []string:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = `\"` + strings.ReplaceAll(elem, `"`, `\\"`) + `\"`
		}
		s = "[" + strings.Join(parts, sep) + "]"
	case []Reference:
		parts := make([]string, len(val))
		for i, ref := range val {
			parts[i] = `\"` + ref.String() + `\"`
		}
		s = "[" + strings.Join(parts, sep) + "]"
	case []fmt.Stringer:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = `\"` + item.String() + `\"`
		}
		s = "[" + strings.Join(parts, sep) + "]"
	case time.Time:
		layout := opts.DateFormat
		if layout == "" {
			layout = DefaultDateFormat
		}
		s = val.Format(layout)
	case *time.Time:
		if val == nil {
			return ""
		}
		return EncodeValue(*val, opts)
	default:
		s = strings.ReplaceAll(scalarString(val), `"`, `\"`)
	}

	return normalizeLineBreaks(s, opts.StripLineBreaks)
}

// scalarString returns the natural string form of a scalar value.
func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func normalizeLineBreaks(s string, strip bool) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	repl := "\n"
	if strip {
		repl = ""
	}
	s = strings.ReplaceAll(s, "\r\n", repl)
	return strings.ReplaceAll(s, "\r", repl)
}
