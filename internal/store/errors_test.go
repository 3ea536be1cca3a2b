package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
		invalid  bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true, false},
		{"deadlock", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), true, false},
		{"not null", &pgconn.PgError{Code: "23502", ColumnName: "name"}, false, true},
		{"bad numeric", &pgconn.PgError{Code: "22003"}, false, true},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false, false},
		{"plain error", errors.New("connection reset"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(customerDesc(), tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.conflict, core.IsConflict(err))

			var ve *core.ValidationError
			assert.Equal(t, tt.invalid, errors.As(err, &ve))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, classify(nil, nil))
}

func TestClassify_ValidationNamesField(t *testing.T) {
	err := classify(customerDesc(), &pgconn.PgError{
		Code:       "23503",
		Message:    "insert or update violates foreign key constraint",
		Detail:     "Key (owner)=(x) is not present",
		ColumnName: "owner",
	})

	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Owner", ve.Field)
	assert.Equal(t, "insert or update violates foreign key constraint: Key (owner)=(x) is not present", ve.Message)
}
