package query

import (
	"net/url"
	"testing"

	"github.com/koustreak/featureserv/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_Defaults(t *testing.T) {
	req, err := ParseRequest(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, req.Format)
	assert.True(t, req.ReturnGeometry)
	assert.Nil(t, req.ResultRecordCount)
	assert.Zero(t, req.ResultOffset)
	assert.Nil(t, req.OutFields)
	assert.Nil(t, req.ObjectIDs)
}

func TestParseRequest_AllOptions(t *testing.T) {
	v := url.Values{}
	v.Set("where", " population > 1000000 ")
	v.Set("definitionExpression", "active = true")
	v.Set("bbox", "-10,-10,10,10")
	v.Set("geometry", `{"x":1,"y":2}`)
	v.Set("spatialRel", "esriSpatialRelWithin")
	v.Set("orderByFields", "name DESC")
	v.Set("resultOffset", "20")
	v.Set("resultRecordCount", "5")
	v.Set("returnCountOnly", "true")
	v.Set("returnIdsOnly", "TRUE")
	v.Set("returnGeometry", "false")
	v.Set("outFields", "name, population")
	v.Set("objectIds", "1, 2,3")
	v.Set("relationshipId", "0")
	v.Set("f", "geojson")
	v.Set("token", "ignored")

	req, err := ParseRequest(v)
	require.NoError(t, err)
	assert.Equal(t, "population > 1000000", req.Where)
	assert.Equal(t, "active = true", req.DefinitionExpression)
	assert.Equal(t, "-10,-10,10,10", req.BBox)
	assert.Equal(t, "esriSpatialRelWithin", req.SpatialRel)
	assert.Equal(t, 20, req.ResultOffset)
	require.NotNil(t, req.ResultRecordCount)
	assert.Equal(t, 5, *req.ResultRecordCount)
	assert.True(t, req.ReturnCountOnly)
	assert.True(t, req.ReturnIdsOnly)
	assert.False(t, req.ReturnGeometry)
	assert.Equal(t, []string{"name", "population"}, req.OutFields)
	assert.Equal(t, []string{"1", "2", "3"}, req.ObjectIDs)
	assert.Equal(t, "0", req.RelationshipID)
	assert.Equal(t, FormatGeoJSON, req.Format)
}

func TestParseRequest_ZeroRecordCountMeansUnlimited(t *testing.T) {
	req, err := ParseRequest(url.Values{"resultRecordCount": {"0"}})
	require.NoError(t, err)
	require.NotNil(t, req.ResultRecordCount)
	assert.Equal(t, 0, *req.ResultRecordCount)
}

func TestParseRequest_BadNumbers(t *testing.T) {
	for _, v := range []url.Values{
		{"resultOffset": {"ten"}},
		{"resultOffset": {"-1"}},
		{"resultRecordCount": {"1.5"}},
	} {
		_, err := ParseRequest(v)
		require.Error(t, err, v.Encode())
		assert.True(t, errs.IsInvalidInput(err))
	}
}

func TestParseRequest_ObjectIDsArray(t *testing.T) {
	req, err := ParseRequest(url.Values{"objectIds": {"[4,5]"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, req.ObjectIDs)
}

func TestRequest_HasOutField(t *testing.T) {
	all := DefaultRequest()
	assert.True(t, all.HasOutField("anything"))

	some := DefaultRequest()
	some.OutFields = []string{"Name"}
	assert.True(t, some.HasOutField("name"))
	assert.False(t, some.HasOutField("population"))
}
