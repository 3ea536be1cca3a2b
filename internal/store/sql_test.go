package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

var testID = uuid.MustParse("7f1b3c2a-9d4e-4f10-8a6b-0c1d2e3f4a5b")

func customerDesc() *core.TypeDescriptor {
	return &core.TypeDescriptor{
		Name:        "Customer",
		Table:       "customers",
		KeyField:    "Code",
		ExtraColumn: "attributes",
		FieldSpecs: []core.FieldSpec{
			{Name: "Code", Type: core.FieldText, Required: true},
			{Name: "Name", Type: core.FieldText},
			{Name: "Since", Type: core.FieldDate},
			{Name: "Owner", Type: core.FieldReference, RefType: "Contact"},
		},
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"with space", `"with space"`},
		{`user"name`, `"user""name"`},
		{`a""b`, `"a""""b"`},
		{"", `""`},
		{"table; DROP TABLE users;--", `"table; DROP TABLE users;--"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, quoteIdentifier(tt.input))
		})
	}
}

func TestBuildWrite_Upsert(t *testing.T) {
	since := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	rec := core.TypedRecord{
		Type: "Customer",
		Values: map[string]any{
			"Code":  "AC-1",
			"Since": since,
			"Owner": core.Reference{Type: "Contact", ID: "c@x.io"},
		},
	}

	stmt, err := buildWrite(customerDesc(), rec, testID)
	require.NoError(t, err)

	assert.Equal(t,
		`INSERT INTO "customers" ("id", "code", "since", "owner") VALUES ($1, $2, $3, $4)`+
			` ON CONFLICT ("code") DO UPDATE SET "since" = EXCLUDED."since", "owner" = EXCLUDED."owner", "updated_at" = now()`+
			` RETURNING "id", (xmax = 0)`,
		stmt.sql)
	assert.Equal(t, []any{testID, "AC-1", since, "c@x.io"}, stmt.args)
}

func TestBuildWrite_ExtraColumnsMerge(t *testing.T) {
	rec := core.TypedRecord{Values: map[string]any{"Code": "AC-1", "Region": "EMEA"}}

	stmt, err := buildWrite(customerDesc(), rec, testID)
	require.NoError(t, err)

	assert.Contains(t, stmt.sql, `("id", "code", "attributes")`)
	assert.Contains(t, stmt.sql, `"attributes" = COALESCE("customers"."attributes", '{}'::jsonb) || EXCLUDED."attributes"`)
	assert.Equal(t, map[string]string{"Region": "EMEA"}, stmt.args[2])
}

func TestBuildWrite_ExtraColumnsDroppedWithoutColumn(t *testing.T) {
	desc := customerDesc()
	desc.ExtraColumn = ""
	rec := core.TypedRecord{Values: map[string]any{"Code": "AC-1", "Region": "EMEA"}}

	stmt, err := buildWrite(desc, rec, testID)
	require.NoError(t, err)
	assert.Len(t, stmt.args, 2)
	assert.NotContains(t, stmt.sql, "Region")
}

func TestBuildWrite_InsertOnlyWithoutKey(t *testing.T) {
	desc := &core.TypeDescriptor{
		Name:  "Activity",
		Table: "activities",
		FieldSpecs: []core.FieldSpec{
			{Name: "Kind", Type: core.FieldEnum},
			{Name: "Minutes", Type: core.FieldInteger},
		},
	}
	rec := core.TypedRecord{Values: map[string]any{"Kind": "call", "Minutes": int64(5)}}

	stmt, err := buildWrite(desc, rec, testID)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "activities" ("id", "kind", "minutes") VALUES ($1, $2, $3) RETURNING "id", true`,
		stmt.sql)
}

func TestBuildWrite_MissingKey(t *testing.T) {
	rec := core.TypedRecord{Values: map[string]any{"Name": "Acme"}}

	_, err := buildWrite(customerDesc(), rec, testID)

	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Code", ve.Field)
}

func TestSelectSQL(t *testing.T) {
	assert.Equal(t,
		`SELECT "id", "code", "name", "since", "owner", "attributes" FROM "customers" ORDER BY "created_at", "id"`,
		selectSQL(customerDesc()))
	assert.Equal(t,
		`SELECT "id", "code", "name", "since", "owner", "attributes" FROM "customers" WHERE "id" = $1`,
		selectOneSQL(customerDesc()))
}
