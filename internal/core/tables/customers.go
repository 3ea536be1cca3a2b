package tables

import "github.com/JonMunkholm/bulkcsv/internal/core"

func init() {
	core.Register(customerType())
}

func customerType() core.TypeDescriptor {
	return core.TypeDescriptor{
		Name:        "Customer",
		Table:       "customers",
		KeyField:    "Code",
		ExtraColumn: "attributes",
		FieldSpecs: []core.FieldSpec{
			{Name: "Code", Type: core.FieldText, Required: true, Normalizer: NormalizeCode},
			{Name: "Name", Type: core.FieldText, Required: true},
			{Name: "Email", Type: core.FieldText, Normalizer: NormalizeEmail},
			{Name: "Age", Type: core.FieldInteger},
			{Name: "Balance", Type: core.FieldNumeric},
			{Name: "Active", Type: core.FieldBool},
			{Name: "Since", Type: core.FieldDate, DateFormat: "2006-01-02"},
			{Name: "Tags", Type: core.FieldStringArray},
			{Name: "State", Type: core.FieldText, Normalizer: NormalizeUsState},
			{Name: "Tier", Type: core.FieldEnum, EnumValues: []string{"basic", "plus", "enterprise"}},
		},
		Views: map[string][]string{
			core.DefaultView: {"Code", "Name", "Email", "State", "Tier", "Tags"},
			"billing":        {"Code", "Name", "Balance", "Active", "Since"},
		},
	}
}
