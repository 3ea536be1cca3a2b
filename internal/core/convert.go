package core

// convert.go provides the field parsers that turn raw CSV strings into typed values.
//
// These functions handle the messy reality of user-provided CSV data:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Currency symbols and thousand separators in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//   - Array values in the exported [\"a\",\"b\"] shape or a plain comma list
//
// All Parse* functions return ok=false for invalid input. Empty input is
// handled by the caller, which treats it as an absent value.

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		time.RFC3339, DefaultDateFormat,
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// ParseDate parses s with the given layout first, then with the lenient
// layouts accepted for hand-edited files.
func ParseDate(s, layout string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, l := range fourDigitYearLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, l := range twoDigitYearLayouts {
		if t, err := time.Parse(l, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// cleanNumeric strips currency symbols and thousands separators and turns
// accounting negatives "(123.45)" into "-123.45".
func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}
	return s
}

// ParseNumeric parses a decimal number.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ParseNumeric(s string) (float64, bool) {
	s = cleanNumeric(s)
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseInteger parses a whole number, accepting the same decoration as ParseNumeric.
func ParseInteger(s string) (int64, bool) {
	s = cleanNumeric(s)
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	// "30.0" and "3e1" are integers too
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// ParseBool accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// ParseStringArray parses a bracketed list of quoted elements ["a","b"] as
// written by the exporter (after the decoder has removed the field-level
// escapes), or falls back to a plain comma-separated list. Inside an element
// only \" is an escape; any other backslash is literal.
func ParseStringArray(s string) ([]string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		inner := strings.TrimSpace(s[1 : len(s)-1])
		if inner == "" {
			return []string{}, true
		}
		if out, ok := parseQuotedList(inner); ok {
			return out, true
		}
		s = inner
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return out, true
}

// parseQuotedList reads "a", "b" with optional whitespace around commas.
// It reports false when s is not entirely a list of quoted elements.
func parseQuotedList(s string) ([]string, bool) {
	var out []string
	i := 0
	for {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) || s[i] != '"' {
			return nil, false
		}
		i++

		var elem strings.Builder
		closed := false
		for i < len(s) {
			c := s[i]
			if c == '\\' && i+1 < len(s) && s[i+1] == '"' {
				elem.WriteByte('"')
				i += 2
				continue
			}
			if c == '"' {
				closed = true
				i++
				break
			}
			elem.WriteByte(c)
			i++
		}
		if !closed {
			return nil, false
		}
		out = append(out, elem.String())

		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i == len(s) {
			return out, true
		}
		if s[i] != ',' {
			return nil, false
		}
		i++
	}
}

// CleanCell removes common CSV artifacts from a header cell:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// ParseField converts the raw value of the named field into its typed
// value. An empty value yields nil (absent) unless the field is required.
// Fields the type does not declare are carried through as strings.
func (d *TypeDescriptor) ParseField(name, raw string) (any, error) {
	spec, ok := d.Field(name)
	if !ok {
		return raw, nil
	}

	if spec.Normalizer != nil {
		raw = spec.Normalizer(raw)
	}

	if strings.TrimSpace(raw) == "" {
		if spec.Required && !spec.AllowEmpty {
			return nil, &ValidationError{Field: spec.Name, Message: "required field is empty"}
		}
		return nil, nil
	}

	invalid := func(kind string) error {
		return &ValidationError{
			Field:   spec.Name,
			Value:   raw,
			Message: fmt.Sprintf("invalid %s %q", kind, raw),
		}
	}

	switch spec.Type {
	case FieldText:
		return raw, nil

	case FieldEnum:
		v := strings.TrimSpace(raw)
		if !slices.ContainsFunc(spec.EnumValues, func(e string) bool { return strings.EqualFold(e, v) }) {
			return nil, &ValidationError{
				Field:   spec.Name,
				Value:   raw,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(spec.EnumValues, ", ")),
			}
		}
		return v, nil

	case FieldDate:
		t, ok := ParseDate(raw, spec.DateFormat)
		if !ok {
			return nil, invalid("date")
		}
		return t, nil

	case FieldNumeric:
		f, ok := ParseNumeric(raw)
		if !ok {
			return nil, invalid("number")
		}
		return f, nil

	case FieldInteger:
		i, ok := ParseInteger(raw)
		if !ok {
			return nil, invalid("integer")
		}
		return i, nil

	case FieldBool:
		b, ok := ParseBool(raw)
		if !ok {
			return nil, invalid("boolean")
		}
		return b, nil

	case FieldStringArray:
		arr, ok := ParseStringArray(raw)
		if !ok {
			return nil, invalid("list")
		}
		return arr, nil

	case FieldReference:
		return Reference{Type: spec.RefType, ID: strings.TrimSpace(raw)}, nil

	case FieldReferenceList:
		ids, ok := ParseStringArray(raw)
		if !ok {
			return nil, invalid("reference list")
		}
		refs := make([]Reference, 0, len(ids))
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				refs = append(refs, Reference{Type: spec.RefType, ID: id})
			}
		}
		return refs, nil

	default:
		return nil, fmt.Errorf("field %s: unsupported type %s", spec.Name, spec.Type)
	}
}
