package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

// dbValue converts a typed record value into a pgx query argument.
// References are stored by id.
func dbValue(v any) any {
	switch x := v.(type) {
	case core.Reference:
		return x.ID
	case []core.Reference:
		ids := make([]string, len(x))
		for i, r := range x {
			ids[i] = r.ID
		}
		return ids
	default:
		return v
	}
}

// scanTarget returns a scan destination for a field. Pointer targets read
// NULL as nil.
func scanTarget(t core.FieldType) any {
	switch t {
	case core.FieldInteger:
		return new(*int64)
	case core.FieldNumeric:
		return new(*float64)
	case core.FieldBool:
		return new(*bool)
	case core.FieldDate:
		return new(*time.Time)
	case core.FieldStringArray, core.FieldReferenceList:
		return new([]string)
	default:
		return new(*string)
	}
}

// fieldValue turns a filled scan target back into a typed record value.
// It returns nil for NULL.
func fieldValue(spec core.FieldSpec, dest any) any {
	switch d := dest.(type) {
	case **int64:
		if *d != nil {
			return **d
		}
	case **float64:
		if *d != nil {
			return **d
		}
	case **bool:
		if *d != nil {
			return **d
		}
	case **time.Time:
		if *d != nil {
			return **d
		}
	case *[]string:
		if *d == nil {
			return nil
		}
		if spec.Type != core.FieldReferenceList {
			return *d
		}
		refs := make([]core.Reference, len(*d))
		for i, id := range *d {
			refs[i] = core.Reference{Type: spec.RefType, ID: id}
		}
		return refs
	case **string:
		if *d == nil {
			return nil
		}
		if spec.Type == core.FieldReference {
			return core.Reference{Type: spec.RefType, ID: **d}
		}
		return **d
	}
	return nil
}

func scanRecord(desc *core.TypeDescriptor, rows pgx.Rows) (core.TypedRecord, error) {
	var id pgtype.UUID
	dests := make([]any, 0, len(desc.FieldSpecs)+2)
	dests = append(dests, &id)
	for _, spec := range desc.FieldSpecs {
		dests = append(dests, scanTarget(spec.Type))
	}
	var extra map[string]any
	if desc.ExtraColumn != "" {
		dests = append(dests, &extra)
	}

	if err := rows.Scan(dests...); err != nil {
		return core.TypedRecord{}, fmt.Errorf("scan %s: %w", desc.Table, err)
	}

	rec := core.TypedRecord{
		Type:   desc.Name,
		ID:     uuid.UUID(id.Bytes).String(),
		Values: make(map[string]any, len(dests)),
	}
	for i, spec := range desc.FieldSpecs {
		if v := fieldValue(spec, dests[i+1]); v != nil {
			rec.Values[spec.Name] = v
		}
	}
	for k, v := range extra {
		if v != nil {
			rec.Values[k] = fmt.Sprint(v)
		}
	}
	return rec, nil
}
