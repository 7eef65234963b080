package query

import (
	"testing"

	"github.com/koustreak/featureserv/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderBy(t *testing.T) {
	tests := []struct {
		in   string
		want []OrderTerm
	}{
		{"name", []OrderTerm{{Field: "name"}}},
		{"name ASC", []OrderTerm{{Field: "name"}}},
		{"population desc, name", []OrderTerm{{Field: "population", Desc: true}, {Field: "name"}}},
		{`"Mixed Case" DESC`, []OrderTerm{{Field: "Mixed Case", Desc: true}}},
		{"  a ,b DESC,", []OrderTerm{{Field: "a"}, {Field: "b", Desc: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOrderBy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOrderBy_Empty(t *testing.T) {
	got, err := ParseOrderBy("  ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseOrderBy_Invalid(t *testing.T) {
	for _, in := range []string{"name; DROP TABLE x", "name SIDEWAYS", "a b c", ",name"} {
		_, err := ParseOrderBy(in)
		require.Error(t, err, in)
		assert.True(t, errs.IsInvalidInput(err), in)
	}
}
