package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

type statement struct {
	sql  string
	args []any
}

// quoteIdentifier safely quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// buildWrite renders the upsert for one record. Declared fields present in
// the record become columns in declaration order; other values go to the
// type's extra column, or are dropped when it has none. Absent fields are
// left untouched on update.
func buildWrite(desc *core.TypeDescriptor, rec core.TypedRecord, id uuid.UUID) (statement, error) {
	cols := []string{"id"}
	args := []any{id}

	var keyCol string
	for _, spec := range desc.FieldSpecs {
		v, ok := rec.Values[spec.Name]
		if !ok || v == nil {
			continue
		}
		cols = append(cols, spec.Column())
		args = append(args, dbValue(v))
		if desc.KeyField != "" && strings.EqualFold(spec.Name, desc.KeyField) {
			keyCol = spec.Column()
		}
	}

	if desc.KeyField != "" && keyCol == "" {
		return statement{}, &core.ValidationError{Field: desc.KeyField, Message: "key field is empty"}
	}

	if desc.ExtraColumn != "" {
		if extra := extraValues(desc, rec); len(extra) > 0 {
			cols = append(cols, desc.ExtraColumn)
			args = append(args, extra)
		}
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdentifier(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentifier(desc.Table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	if keyCol == "" {
		b.WriteString(` RETURNING "id", true`)
		return statement{sql: b.String(), args: args}, nil
	}

	sets := make([]string, 0, len(cols))
	for _, c := range cols[1:] {
		switch c {
		case keyCol:
			continue
		case desc.ExtraColumn:
			sets = append(sets, fmt.Sprintf("%[1]s = COALESCE(%[2]s.%[1]s, '{}'::jsonb) || EXCLUDED.%[1]s",
				quoteIdentifier(c), quoteIdentifier(desc.Table)))
		default:
			sets = append(sets, fmt.Sprintf("%[1]s = EXCLUDED.%[1]s", quoteIdentifier(c)))
		}
	}
	sets = append(sets, `"updated_at" = now()`)

	fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s RETURNING \"id\", (xmax = 0)",
		quoteIdentifier(keyCol), strings.Join(sets, ", "))

	return statement{sql: b.String(), args: args}, nil
}

// extraValues collects the values of columns the type does not declare.
func extraValues(desc *core.TypeDescriptor, rec core.TypedRecord) map[string]string {
	var extra map[string]string
	for name, v := range rec.Values {
		if v == nil {
			continue
		}
		if _, declared := desc.Field(name); declared {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[name] = fmt.Sprint(v)
	}
	return extra
}

// selectSQL reads a type's records in insertion order.
func selectSQL(desc *core.TypeDescriptor) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY \"created_at\", \"id\"",
		selectColumns(desc), quoteIdentifier(desc.Table))
}

// selectOneSQL reads the record with id $1.
func selectOneSQL(desc *core.TypeDescriptor) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE \"id\" = $1",
		selectColumns(desc), quoteIdentifier(desc.Table))
}

func selectColumns(desc *core.TypeDescriptor) string {
	cols := []string{quoteIdentifier("id")}
	for _, spec := range desc.FieldSpecs {
		cols = append(cols, quoteIdentifier(spec.Column()))
	}
	if desc.ExtraColumn != "" {
		cols = append(cols, quoteIdentifier(desc.ExtraColumn))
	}
	return strings.Join(cols, ", ")
}
