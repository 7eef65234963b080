package format

import (
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/schema"
)

type GeoJSONFeature struct {
	Type       string            `json:"type"`
	ID         any               `json:"id,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties Attributes        `json:"properties"`
}

// Metadata is the non-standard extension carried next to the features.
type Metadata struct {
	Name                  string                          `json:"name"`
	Description           string                          `json:"description"`
	GeometryType          *string                         `json:"geometryType"`
	IDField               string                          `json:"idField,omitempty"`
	Fields                []EsriField                     `json:"fields"`
	Relationships         []schema.RelationshipDescriptor `json:"relationships"`
	ExceededTransferLimit bool                            `json:"exceededTransferLimit"`
}

// FiltersApplied tells clients which filters the server already evaluated.
type FiltersApplied struct {
	Where    bool `json:"where"`
	Geometry bool `json:"geometry"`
	BBox     bool `json:"bbox"`
	Limit    bool `json:"limit"`
	Offset   bool `json:"offset"`
}

type FeatureCollection struct {
	Type           string           `json:"type"`
	Features       []GeoJSONFeature `json:"features"`
	Metadata       Metadata         `json:"metadata"`
	FiltersApplied FiltersApplied   `json:"filtersApplied"`
}

// GeoJSONCollection builds the f=geojson response.
func GeoJSONCollection(layer Layer, features []Feature, exceeded bool, req query.Request) FeatureCollection {
	fc := FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]GeoJSONFeature, 0, len(features)),
		Metadata: Metadata{
			Name:                  layer.Name,
			IDField:               layer.IDField,
			Fields:                EsriFields(selectFields(layer, req)),
			Relationships:         layer.Relationships,
			ExceededTransferLimit: exceeded,
		},
		FiltersApplied: FiltersApplied{
			Where:    req.Where != "",
			Limit:    req.ResultRecordCount != nil,
			Offset:   req.ResultOffset > 0,
			Geometry: layer.Table.IsSpatial() && req.Geometry != "",
			BBox:     layer.Table.IsSpatial() && req.BBox != "",
		},
	}
	if fc.Metadata.Relationships == nil {
		fc.Metadata.Relationships = []schema.RelationshipDescriptor{}
	}

	if layer.Table.IsSpatial() {
		fc.Metadata.Description = fmt.Sprintf("Spatial layer with %d features", len(features))
		gt := layer.Table.GeometryType.Esri()
		if len(features) > 0 && features[0].GeometryType != "" {
			gt = schema.ParseGeometryType(features[0].GeometryType).Esri()
		}
		fc.Metadata.GeometryType = &gt
	} else {
		fc.Metadata.Description = fmt.Sprintf("Non-spatial table with %d records", len(features))
	}

	for _, f := range features {
		gf := GeoJSONFeature{Type: "Feature", Properties: f.GeoJSONProperties()}
		if layer.IDField != "" {
			if id, ok := f.Raw.Get(layer.IDField); ok {
				gf.ID = GeoJSONValue(id)
			}
		}
		if req.ReturnGeometry && f.Geometry != nil {
			gf.Geometry = geojson.NewGeometry(f.Geometry)
		}
		fc.Features = append(fc.Features, gf)
	}
	return fc
}
