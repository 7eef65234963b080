package format

import (
	"encoding/json"

	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/schema"
)

// WGS84 is the only spatial reference served.
var WGS84 = SpatialReference{WKID: 4326, LatestWKID: 4326}

type SpatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid"`
}

// EsriField is a field as listed in Esri responses.
type EsriField struct {
	schema.FieldDescriptor
	DefaultValue any `json:"defaultValue"`
	Domain       any `json:"domain"`
}

// EsriFields converts descriptors into response fields.
func EsriFields(fields []schema.FieldDescriptor) []EsriField {
	out := make([]EsriField, 0, len(fields))
	for _, f := range fields {
		out = append(out, EsriField{FieldDescriptor: f})
	}
	return out
}

type UniqueIDField struct {
	Name               string `json:"name"`
	IsSystemMaintained bool   `json:"isSystemMaintained"`
}

// EsriFeature is one Esri JSON feature. Features of a spatial layer queried
// with returnGeometry carry a geometry key even when the shape is null.
type EsriFeature struct {
	Attributes Attributes
	Geometry   any

	hasGeometry bool
}

func (f EsriFeature) MarshalJSON() ([]byte, error) {
	if f.hasGeometry {
		return json.Marshal(struct {
			Attributes Attributes `json:"attributes"`
			Geometry   any        `json:"geometry"`
		}{f.Attributes, f.Geometry})
	}
	return json.Marshal(struct {
		Attributes Attributes `json:"attributes"`
	}{f.Attributes})
}

// FeatureSet is the Esri JSON query response.
type FeatureSet struct {
	ObjectIDFieldName     string           `json:"objectIdFieldName"`
	UniqueIDField         UniqueIDField    `json:"uniqueIdField"`
	GlobalIDFieldName     string           `json:"globalIdFieldName"`
	GeometryType          string           `json:"geometryType,omitempty"`
	SpatialReference      SpatialReference `json:"spatialReference"`
	Fields                []EsriField      `json:"fields"`
	Features              []EsriFeature    `json:"features"`
	ExceededTransferLimit bool             `json:"exceededTransferLimit"`
}

// EsriFeatureSet builds the Esri JSON response for one page of features.
func EsriFeatureSet(layer Layer, features []Feature, exceeded bool, req query.Request) FeatureSet {
	set := FeatureSet{
		ObjectIDFieldName:     layer.ObjectIDFieldName(),
		UniqueIDField:         UniqueIDField{Name: layer.ObjectIDFieldName(), IsSystemMaintained: true},
		GeometryType:          layer.Table.GeometryType.Esri(),
		SpatialReference:      WGS84,
		Fields:                EsriFields(selectFields(layer, req)),
		Features:              make([]EsriFeature, 0, len(features)),
		ExceededTransferLimit: exceeded,
	}
	for _, f := range layer.Fields {
		if f.Type == schema.FieldGlobalID {
			set.GlobalIDFieldName = f.Name
			break
		}
	}
	for _, f := range features {
		set.Features = append(set.Features, esriFeature(f, layer, req))
	}
	return set
}

func esriFeature(f Feature, layer Layer, req query.Request) EsriFeature {
	ef := EsriFeature{Attributes: f.EsriAttributes()}
	if req.ReturnGeometry && layer.Table.IsSpatial() {
		ef.Geometry = ToEsri(f.Geometry)
		ef.hasGeometry = true
	}
	return ef
}

func selectFields(layer Layer, req query.Request) []schema.FieldDescriptor {
	if req.OutFields == nil {
		return layer.Fields
	}
	out := make([]schema.FieldDescriptor, 0, len(layer.Fields))
	for _, f := range layer.Fields {
		if f.Name == layer.IDField || req.HasOutField(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// CountResult is the returnCountOnly response.
type CountResult struct {
	Count int `json:"count"`
}

// Count reports the number of rows on the page that was fetched.
func Count(features []Feature) CountResult {
	return CountResult{Count: len(features)}
}

// IDsResult is the returnIdsOnly response.
type IDsResult struct {
	ObjectIDFieldName string `json:"objectIdFieldName"`
	ObjectIDs         []any  `json:"objectIds"`
}

// IDs lists the object ids of features in result order, skipping nulls.
func IDs(layer Layer, features []Feature) IDsResult {
	res := IDsResult{ObjectIDFieldName: layer.ObjectIDFieldName(), ObjectIDs: make([]any, 0, len(features))}
	for _, f := range features {
		v, ok := f.Raw.Get(res.ObjectIDFieldName)
		if !ok || v == nil {
			continue
		}
		res.ObjectIDs = append(res.ObjectIDs, EsriValue(v))
	}
	return res
}

// RelatedRecord is one row in a related-records group.
type RelatedRecord = EsriFeature

// RelatedRecordGroup holds the rows related to one source object.
type RelatedRecordGroup struct {
	ObjectID       any             `json:"objectId"`
	RelatedRecords []RelatedRecord `json:"relatedRecords"`
}

// RelatedRecords is the queryRelatedRecords response.
type RelatedRecords struct {
	Fields              []EsriField          `json:"fields"`
	GeometryType        string               `json:"geometryType,omitempty"`
	SpatialReference    SpatialReference     `json:"spatialReference"`
	RelatedRecordGroups []RelatedRecordGroup `json:"relatedRecordGroups"`
}

// RelatedGroup renders the rows related to objectID.
func RelatedGroup(objectID any, related Layer, features []Feature, req query.Request) RelatedRecordGroup {
	g := RelatedRecordGroup{ObjectID: objectID, RelatedRecords: make([]RelatedRecord, 0, len(features))}
	for _, f := range features {
		g.RelatedRecords = append(g.RelatedRecords, esriFeature(f, related, req))
	}
	return g
}
