package tables

import "github.com/JonMunkholm/bulkcsv/internal/core"

func init() {
	core.Register(activityType())
}

// Activities are an append-only log. Each row commits on its own so a bad
// row never discards the ones logged before it.
func activityType() core.TypeDescriptor {
	return core.TypeDescriptor{
		Name:            "Activity",
		Table:           "activities",
		OwnsTransaction: true,
		FieldSpecs: []core.FieldSpec{
			{Name: "Contact", Type: core.FieldReference, RefType: "Contact", Required: true},
			{Name: "Kind", Type: core.FieldEnum, Required: true, EnumValues: []string{"call", "email", "meeting", "note"}},
			{Name: "At", Type: core.FieldDate, Required: true},
			{Name: "Minutes", Type: core.FieldInteger},
			{Name: "Notes", Type: core.FieldText},
		},
	}
}
