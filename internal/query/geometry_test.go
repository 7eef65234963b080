package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeometry(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"wkt point", "POINT(1 2)", "POINT(1 2)"},
		{"geojson point", `{"type":"Point","coordinates":[3.5,-4]}`, "POINT(3.5 -4)"},
		{"esri point", `{"x":10,"y":20,"spatialReference":{"wkid":4326}}`, "POINT(10 20)"},
		{"esri envelope", `{"xmin":0,"ymin":0,"xmax":1,"ymax":1}`, "POLYGON((0 0,1 0,1 1,0 1,0 0))"},
		{"esri single path", `{"paths":[[[0,0],[1,1]]]}`, "LINESTRING(0 0,1 1)"},
		{"esri rings", `{"rings":[[[0,0],[0,1],[1,1],[0,0]]]}`, "POLYGON((0 0,0 1,1 1,0 0))"},
		{"bare point", "5,6", "POINT(5 6)"},
		{"bare envelope", "0,0,2,2", "POLYGON((0 0,2 0,2 2,0 2,0 0))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGeometry(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseGeometry_EsriMultipoint(t *testing.T) {
	got, err := ParseGeometry(`{"points":[[1,1],[2,2]]}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "MULTIPOINT"), got)
	assert.Contains(t, got, "1 1")
	assert.Contains(t, got, "2 2")
}

func TestParseGeometry_Invalid(t *testing.T) {
	for _, in := range []string{"", "not a geometry", `{"foo":1}`, `{"x":1`, "1,2,3", `{"points":[[1]]}`} {
		_, err := ParseGeometry(in)
		assert.Error(t, err, in)
	}
}

func TestSpatialPredicate(t *testing.T) {
	assert.Equal(t, "ST_Intersects", SpatialPredicate(""))
	assert.Equal(t, "ST_Intersects", SpatialPredicate("esriSpatialRelEnvelopeIntersects"))
	assert.Equal(t, "ST_Contains", SpatialPredicate("esriSpatialRelContains"))
	assert.Equal(t, "ST_Within", SpatialPredicate("esriSpatialRelWithin"))
	assert.Equal(t, "ST_Disjoint", SpatialPredicate("esriSpatialRelDisjoint"))
}
