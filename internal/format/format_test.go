package format

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/schema"
)

func citiesLayer() Layer {
	return Layer{
		Name:    "cities",
		Table:   schema.TableDescriptor{Schema: "public", Table: "cities", GeometryColumn: "geom", GeometryType: schema.GeometryPoint},
		IDField: "id",
		Fields: []schema.FieldDescriptor{
			{Name: "id", Type: schema.FieldOID, Alias: "id"},
			{Name: "name", Type: schema.FieldString, Alias: "name", Nullable: true},
			{Name: "population", Type: schema.FieldInteger, Alias: "population", Nullable: true},
		},
	}
}

var cityColumns = []string{"id", "name", "population", "geom", "geojson_geom", "geom_type"}

func cityRecord(id int32, name string, pop int32, geojson string) database.Record {
	return database.Record{
		Columns: cityColumns,
		Values:  []any{id, name, pop, []byte{0x01}, geojson, "ST_Point"},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestToEsri(t *testing.T) {
	tests := []struct {
		name string
		in   orb.Geometry
		want string
	}{
		{"point", orb.Point{3, 4}, `{"x":3,"y":4}`},
		{"multipoint", orb.MultiPoint{{1, 2}, {3, 4}}, `{"points":[[1,2],[3,4]]}`},
		{"linestring", orb.LineString{{0, 0}, {1, 1}}, `{"paths":[[[0,0],[1,1]]]}`},
		{"multilinestring", orb.MultiLineString{{{0, 0}, {1, 1}}, {{2, 2}, {3, 3}}}, `{"paths":[[[0,0],[1,1]],[[2,2],[3,3]]]}`},
		{"polygon", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, `{"rings":[[[0,0],[1,0],[1,1],[0,0]]]}`},
		{
			"multipolygon flattens",
			orb.MultiPolygon{
				{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
				{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}},
			},
			`{"rings":[[[0,0],[1,0],[1,1],[0,0]],[[5,5],[6,5],[6,6],[5,5]]]}`,
		},
		{"collection", orb.Collection{orb.Point{1, 1}}, `null`},
		{"nil", nil, `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, mustJSON(t, ToEsri(tt.in)))
		})
	}
}

func TestPointRoundTrip(t *testing.T) {
	g, err := ParseGeoJSON(`{"type":"Point","coordinates":[-122.42,37.77]}`)
	require.NoError(t, err)
	assert.Equal(t, EsriPoint{X: -122.42, Y: 37.77}, ToEsri(g))
}

func TestAttributes_KeepOrder(t *testing.T) {
	var a Attributes
	a.Set("zeta", 1)
	a.Set("alpha", "x")
	a.Set("mid", nil)
	a.Set("zeta", 2)
	assert.Equal(t, `{"zeta":2,"alpha":"x","mid":null}`, mustJSON(t, a))
	assert.Equal(t, 3, a.Len())
	v, ok := a.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestValues(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, ts.UnixMilli(), EsriValue(ts))
	assert.Equal(t, ts.UnixMilli(), GeoJSONValue(ts))
	assert.Equal(t, ts.UnixMilli(), GeoJSONValue(pgtype.Date{Time: ts, Valid: true}))
	assert.Equal(t, ts.UnixMilli(), EsriValue(pgtype.Timestamptz{Time: ts, Valid: true}))
	assert.Nil(t, EsriValue(pgtype.Date{}))

	num := pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true}
	assert.Equal(t, 123.45, EsriValue(num))

	id := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	assert.Equal(t, "12345678-9abc-def0-1234-56789abcdef0", EsriValue(id))

	assert.Equal(t, int32(7), EsriValue(int32(7)))
	assert.Nil(t, EsriValue(nil))
}

func TestFeatures_DropsHelperColumnsAndBadGeometry(t *testing.T) {
	records := []database.Record{
		cityRecord(1, "Lagos", 15000000, `{"type":"Point","coordinates":[3.4,6.5]}`),
		cityRecord(2, "Nowhere", 10, `{not json`),
	}

	features := Features(context.Background(), citiesLayer(), records, query.DefaultRequest())
	require.Len(t, features, 2)

	assert.Equal(t, []string{"id", "name", "population"}, features[0].Raw.Columns)
	assert.Equal(t, orb.Point{3.4, 6.5}, features[0].Geometry)
	assert.Equal(t, "ST_Point", features[0].GeometryType)
	assert.Nil(t, features[1].Geometry, "bad geometry degrades to null")
}

func TestFeatures_OutFieldsKeepsID(t *testing.T) {
	req := query.DefaultRequest()
	req.OutFields = []string{"name"}

	features := Features(context.Background(), citiesLayer(),
		[]database.Record{cityRecord(1, "Lagos", 1, `{"type":"Point","coordinates":[0,0]}`)}, req)
	require.Len(t, features, 1)
	assert.Equal(t, []string{"id", "name"}, features[0].Raw.Columns)

	set := EsriFeatureSet(citiesLayer(), features, false, req)
	require.Len(t, set.Fields, 2)
	assert.Equal(t, "name", set.Fields[1].Name)
}

func TestEsriFeatureSet(t *testing.T) {
	layer := citiesLayer()
	features := Features(context.Background(), layer, []database.Record{
		cityRecord(1, "Lagos", 15000000, `{"type":"Point","coordinates":[3.4,6.5]}`),
	}, query.DefaultRequest())

	set := EsriFeatureSet(layer, features, true, query.DefaultRequest())
	assert.JSONEq(t, `{
		"objectIdFieldName": "id",
		"uniqueIdField": {"name": "id", "isSystemMaintained": true},
		"globalIdFieldName": "",
		"geometryType": "esriGeometryPoint",
		"spatialReference": {"wkid": 4326, "latestWkid": 4326},
		"fields": [
			{"name":"id","type":"esriFieldTypeOID","alias":"id","length":null,"nullable":false,"editable":false,"defaultValue":null,"domain":null},
			{"name":"name","type":"esriFieldTypeString","alias":"name","length":null,"nullable":true,"editable":false,"defaultValue":null,"domain":null},
			{"name":"population","type":"esriFieldTypeInteger","alias":"population","length":null,"nullable":true,"editable":false,"defaultValue":null,"domain":null}
		],
		"features": [
			{"attributes": {"id": 1, "name": "Lagos", "population": 15000000}, "geometry": {"x": 3.4, "y": 6.5}}
		],
		"exceededTransferLimit": true
	}`, mustJSON(t, set))
}

func TestEsriFeatureSet_NoGeometry(t *testing.T) {
	req := query.DefaultRequest()
	req.ReturnGeometry = false
	layer := citiesLayer()
	features := Features(context.Background(), layer, []database.Record{
		cityRecord(1, "Lagos", 1, `{"type":"Point","coordinates":[3.4,6.5]}`),
	}, req)

	out := mustJSON(t, EsriFeatureSet(layer, features, false, req))
	assert.NotContains(t, out, `"geometry":`)
}

func TestEsriFeatureSet_NullGeometryKeepsKey(t *testing.T) {
	layer := citiesLayer()
	features := Features(context.Background(), layer, []database.Record{
		{Columns: cityColumns, Values: []any{int32(2), "Atlantis", int32(0), nil, nil, nil}},
		cityRecord(3, "Nowhere", 0, `not geojson`),
	}, query.DefaultRequest())

	set := EsriFeatureSet(layer, features, false, query.DefaultRequest())
	out := mustJSON(t, set.Features)
	assert.JSONEq(t, `[
		{"attributes": {"id": 2, "name": "Atlantis", "population": 0}, "geometry": null},
		{"attributes": {"id": 3, "name": "Nowhere", "population": 0}, "geometry": null}
	]`, out)
}

func TestRelatedGroup_SpatialRelatedLayer(t *testing.T) {
	layer := citiesLayer()
	features := Features(context.Background(), layer, []database.Record{
		{Columns: cityColumns, Values: []any{int32(2), "Atlantis", int32(0), nil, nil, nil}},
	}, query.DefaultRequest())

	g := RelatedGroup(int32(1), layer, features, query.DefaultRequest())
	assert.JSONEq(t, `{"objectId":1,"relatedRecords":[{"attributes":{"id":2,"name":"Atlantis","population":0},"geometry":null}]}`, mustJSON(t, g))
}

func TestEsriFeatureSet_DefaultObjectIDName(t *testing.T) {
	layer := citiesLayer()
	layer.IDField = ""
	set := EsriFeatureSet(layer, nil, false, query.DefaultRequest())
	assert.Equal(t, "OBJECTID", set.ObjectIDFieldName)
	assert.NotNil(t, set.Features)
}

func TestCountAndIDs(t *testing.T) {
	layer := citiesLayer()
	features := []Feature{
		{Raw: database.Record{Columns: []string{"id"}, Values: []any{int32(3)}}},
		{Raw: database.Record{Columns: []string{"id"}, Values: []any{nil}}},
		{Raw: database.Record{Columns: []string{"id"}, Values: []any{int32(1)}}},
	}

	assert.Equal(t, CountResult{Count: 3}, Count(features))
	assert.JSONEq(t, `{"objectIdFieldName":"id","objectIds":[3,1]}`, mustJSON(t, IDs(layer, features)))
}

func TestGeoJSONCollection(t *testing.T) {
	layer := citiesLayer()
	req := query.DefaultRequest()
	req.Where = "population > 1"
	features := Features(context.Background(), layer, []database.Record{
		cityRecord(1, "Lagos", 15000000, `{"type":"Point","coordinates":[3.4,6.5]}`),
	}, req)

	fc := GeoJSONCollection(layer, features, false, req)
	out := mustJSON(t, fc)

	assert.Contains(t, out, `"type":"FeatureCollection"`)
	assert.Contains(t, out, `"properties":{"id":1,"name":"Lagos","population":15000000}`)
	assert.Contains(t, out, `"geometry":{"type":"Point","coordinates":[3.4,6.5]}`)
	assert.Equal(t, "Spatial layer with 1 features", fc.Metadata.Description)
	require.NotNil(t, fc.Metadata.GeometryType)
	assert.Equal(t, "esriGeometryPoint", *fc.Metadata.GeometryType)
	assert.True(t, fc.FiltersApplied.Where)
	assert.False(t, fc.FiltersApplied.BBox)
	assert.NotNil(t, fc.Metadata.Relationships)
}

func TestGeoJSONCollection_DatesAreEpochMillis(t *testing.T) {
	layer := Layer{Name: "events", Table: schema.TableDescriptor{Schema: "public", Table: "events"}}
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	features := []Feature{{Raw: database.Record{
		Columns: []string{"code", "held_on"},
		Values:  []any{"A", pgtype.Date{Time: when, Valid: true}},
	}}}

	out := mustJSON(t, GeoJSONCollection(layer, features, false, query.DefaultRequest()))
	assert.Contains(t, out, `"properties":{"code":"A","held_on":1704164645000}`)
}

func TestGeoJSONCollection_Table(t *testing.T) {
	layer := Layer{Name: "lookup", Table: schema.TableDescriptor{Schema: "public", Table: "lookup"}}
	features := []Feature{{Raw: database.Record{Columns: []string{"code"}, Values: []any{"A"}}}}

	out := mustJSON(t, GeoJSONCollection(layer, features, false, query.DefaultRequest()))
	assert.Contains(t, out, `"geometry":null`)
	assert.Contains(t, out, `"geometryType":null`)
	assert.Contains(t, out, `Non-spatial table with 1 records`)
}

func TestRelatedGroup(t *testing.T) {
	layer := Layer{Name: "countries", Table: schema.TableDescriptor{Schema: "public", Table: "countries"}}
	features := []Feature{{Raw: database.Record{Columns: []string{"id", "name"}, Values: []any{int32(9), "France"}}}}

	g := RelatedGroup(int32(1), layer, features, query.DefaultRequest())
	assert.JSONEq(t, `{"objectId":1,"relatedRecords":[{"attributes":{"id":9,"name":"France"}}]}`, mustJSON(t, g))
}
