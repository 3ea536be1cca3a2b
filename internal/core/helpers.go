package core

import "strings"

// toDBColumnName derives a column name from a field name: "Postal Code" -> "postal_code".
func toDBColumnName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// Columns returns the database columns of the given fields in order.
// Names that are not declared by the type are converted with the default rule.
func (d *TypeDescriptor) Columns(fields []string) []string {
	result := make([]string, len(fields))
	for i, name := range fields {
		if spec, ok := d.Field(name); ok {
			result[i] = spec.Column()
			continue
		}
		result[i] = toDBColumnName(name)
	}
	return result
}
