// Package format renders query results as Esri JSON or GeoJSON.
package format

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/logger"
	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/schema"
)

// Feature is one result row with its geometry split off. Raw holds the
// driver values; encoders convert them per format.
type Feature struct {
	Geometry     orb.Geometry // nil for tables, NULL shapes and unparseable GeoJSON
	GeometryType string       // ST_GeometryType of the row, "" for tables
	Raw          database.Record
}

// Layer is what the encoders need to know about the queried table.
type Layer struct {
	Name          string
	Table         schema.TableDescriptor
	IDField       string
	Fields        []schema.FieldDescriptor
	Relationships []schema.RelationshipDescriptor
}

// ObjectIDFieldName is the idField, or OBJECTID when the table has none.
func (l Layer) ObjectIDFieldName() string {
	if l.IDField != "" {
		return l.IDField
	}
	return "OBJECTID"
}

// Features converts records into features. The geometry column and the
// helper columns never become attributes; outFields restricts the rest,
// the id field is always kept. A GeoJSON value that fails to parse gives
// the feature a nil geometry; such features are counted in one WARN line.
func Features(ctx context.Context, layer Layer, records []database.Record, req query.Request) []Feature {
	drop := []string{query.GeoJSONColumn, query.GeometryTypeColumn}
	if layer.Table.GeometryColumn != "" {
		drop = append(drop, layer.Table.GeometryColumn)
	}

	features := make([]Feature, 0, len(records))
	bad := 0
	for _, rec := range records {
		f := Feature{}
		if raw, ok := rec.Get(query.GeoJSONColumn); ok && raw != nil {
			if text, ok := raw.(string); ok {
				g, err := ParseGeoJSON(text)
				if err != nil {
					bad++
				} else {
					f.Geometry = g
				}
			}
		}
		if gt, ok := rec.Get(query.GeometryTypeColumn); ok {
			if s, ok := gt.(string); ok {
				f.GeometryType = s
			}
		}

		attrs := rec.Without(drop...)
		if req.OutFields != nil {
			attrs = keepFields(attrs, req, layer.IDField)
		}
		f.Raw = attrs
		features = append(features, f)
	}

	if bad > 0 {
		logger.FromContext(ctx).With().
			Str("table", layer.Table.FullName()).
			Int("features", bad).
			Logger().Warn("unparseable geometry replaced by null")
	}
	return features
}

func keepFields(rec database.Record, req query.Request, idField string) database.Record {
	out := database.Record{}
	for i, c := range rec.Columns {
		if c == idField || req.HasOutField(c) {
			out.Columns = append(out.Columns, c)
			out.Values = append(out.Values, rec.Values[i])
		}
	}
	return out
}

func attributes(rec database.Record, convert func(any) any) Attributes {
	var a Attributes
	for i, c := range rec.Columns {
		a.Set(c, convert(rec.Values[i]))
	}
	return a
}

// EsriAttributes renders the feature's attributes for Esri JSON.
func (f Feature) EsriAttributes() Attributes { return attributes(f.Raw, EsriValue) }

// GeoJSONProperties renders the feature's attributes for GeoJSON.
func (f Feature) GeoJSONProperties() Attributes { return attributes(f.Raw, GeoJSONValue) }
