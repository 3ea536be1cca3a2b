package tables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

func TestRegisteredTypes(t *testing.T) {
	for _, name := range []string{"Customer", "contact", "ACTIVITY"} {
		_, ok := core.Get(name)
		assert.True(t, ok, name)
	}
}

func TestViewsReferenceDeclaredFields(t *testing.T) {
	for _, desc := range core.All() {
		for view, fields := range desc.Views {
			for _, f := range fields {
				_, ok := desc.Field(f)
				assert.True(t, ok, "%s view %q names undeclared field %q", desc.Name, view, f)
			}
		}
		if desc.KeyField != "" {
			spec, ok := desc.Field(desc.KeyField)
			require.True(t, ok, desc.Name)
			assert.True(t, spec.Required, "%s key field must be required", desc.Name)
		}
	}
}

func TestActivityOwnsTransaction(t *testing.T) {
	desc, ok := core.Get("Activity")
	require.True(t, ok)

	job := &core.ImportJob{PeriodicCommit: true}
	assert.Equal(t, core.ModePerRecord, job.Mode(desc))
}

func TestCustomerRow(t *testing.T) {
	desc, ok := core.Get("Customer")
	require.True(t, ok)

	row := core.RawRow{
		Index:   1,
		Columns: []string{"Code", "Name", "Email", "Since", "State", "Tags", "Tier", "Region"},
		Values:  []string{" ac-1", "Acme", " Sales@Acme.COM ", "2024-03-09", "new york", `["a","b"]`, "Plus", "EMEA"},
	}
	rec, err := core.BuildRecord(desc, row)
	require.NoError(t, err)

	assert.Equal(t, "AC-1", rec.Values["Code"])
	assert.Equal(t, "sales@acme.com", rec.Values["Email"])
	assert.Equal(t, "NY", rec.Values["State"])
	assert.Equal(t, "Plus", rec.Values["Tier"])
	assert.Equal(t, []string{"a", "b"}, rec.Values["Tags"])
	assert.Equal(t, "EMEA", rec.Values["Region"])
	assert.True(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC).Equal(rec.Values["Since"].(time.Time)))
}

func TestContactReference(t *testing.T) {
	desc, ok := core.Get("Contact")
	require.True(t, ok)

	v, err := desc.ParseField("Customer", " ac-1 ")
	require.NoError(t, err)
	assert.Equal(t, core.Reference{Type: "Customer", ID: "AC-1"}, v)
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "CA", NormalizeUsState(" California "))
	assert.Equal(t, "TX", NormalizeUsState("tx"))
	assert.Equal(t, "Ontario", NormalizeUsState("Ontario"))
	assert.Equal(t, "AC-1", NormalizeCode(" ac-1 "))
	assert.Equal(t, "a@b.io", NormalizeEmail(" A@B.io"))
}
