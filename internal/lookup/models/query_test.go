package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "osint/pkg/domain-errors"
)

func TestNewQuery(t *testing.T) {
	tests := []struct {
		name       string
		queryType  QueryType
		raw        string
		normalized string
		wantErr    bool
	}{
		{name: "formatted north american phone", queryType: QueryTypePhone, raw: "+1 412-670-4024", normalized: "4126704024"},
		{name: "bare phone digits", queryType: QueryTypePhone, raw: "4126704024", normalized: "4126704024"},
		{name: "international phone keeps country code", queryType: QueryTypePhone, raw: "+44 20 7946 0958", normalized: "442079460958"},
		{name: "phone too short", queryType: QueryTypePhone, raw: "12-34", wantErr: true},
		{name: "phone without digits", queryType: QueryTypePhone, raw: "call me", wantErr: true},
		{name: "email lower-cased and trimmed", queryType: QueryTypeEmail, raw: "  Jane.Doe@Example.COM ", normalized: "jane.doe@example.com"},
		{name: "malformed email", queryType: QueryTypeEmail, raw: "jane.doe@", wantErr: true},
		{name: "empty email", queryType: QueryTypeEmail, raw: "", wantErr: true},
		{name: "unknown type", queryType: QueryType("username"), raw: "jane", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuery(tt.queryType, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.normalized, q.NormalizedValue)
			assert.Equal(t, tt.raw, q.RawValue)
			assert.Equal(t, tt.queryType, q.Type)
		})
	}
}

func TestParseQueryType(t *testing.T) {
	qt, err := ParseQueryType(" Phone ")
	require.NoError(t, err)
	assert.Equal(t, QueryTypePhone, qt)

	_, err = ParseQueryType("fax")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestCanonicalPhone(t *testing.T) {
	assert.Equal(t, "4126704024", CanonicalPhone("14126704024"))
	assert.Equal(t, "4126704024", CanonicalPhone("(412) 670-4024"))
	assert.Equal(t, "24126704024", CanonicalPhone("24126704024"))
	assert.Equal(t, "", CanonicalPhone("n/a"))
}
