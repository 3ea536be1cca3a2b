package tables

import "github.com/JonMunkholm/bulkcsv/internal/core"

func init() {
	core.Register(contactType())
}

func contactType() core.TypeDescriptor {
	return core.TypeDescriptor{
		Name:     "Contact",
		Table:    "contacts",
		KeyField: "Email",
		FieldSpecs: []core.FieldSpec{
			{Name: "Email", Type: core.FieldText, Required: true, Normalizer: NormalizeEmail},
			{Name: "First Name", Type: core.FieldText},
			{Name: "Last Name", Type: core.FieldText, Required: true},
			{Name: "Customer", Type: core.FieldReference, RefType: "Customer", Normalizer: NormalizeCode},
			{Name: "Phones", Type: core.FieldStringArray},
			{Name: "Colleagues", Type: core.FieldReferenceList, RefType: "Contact"},
			{Name: "Updated", Type: core.FieldDate},
		},
		Views: map[string][]string{
			core.DefaultView: {"Email", "First Name", "Last Name", "Customer"},
		},
	}
}
