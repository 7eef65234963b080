package format

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// EsriPoint is {x, y}.
type EsriPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EsriMultipoint is {points}.
type EsriMultipoint struct {
	Points orb.MultiPoint `json:"points"`
}

// EsriPolyline is {paths}.
type EsriPolyline struct {
	Paths []orb.LineString `json:"paths"`
}

// EsriPolygon is {rings}.
type EsriPolygon struct {
	Rings []orb.Ring `json:"rings"`
}

// ParseGeoJSON decodes the GeoJSON text PostGIS produced for one row.
func ParseGeoJSON(raw string) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, err
	}
	return g.Geometry(), nil
}

// ToEsri maps a geometry onto its Esri shape. Multipolygons collapse into
// a single ring list, so the grouping of rings into polygons is lost.
// Anything else, including nil, maps to nil.
func ToEsri(g orb.Geometry) any {
	switch g := g.(type) {
	case orb.Point:
		return EsriPoint{X: g[0], Y: g[1]}
	case orb.MultiPoint:
		return EsriMultipoint{Points: g}
	case orb.LineString:
		return EsriPolyline{Paths: []orb.LineString{g}}
	case orb.MultiLineString:
		return EsriPolyline{Paths: []orb.LineString(g)}
	case orb.Polygon:
		return EsriPolygon{Rings: []orb.Ring(g)}
	case orb.MultiPolygon:
		var rings []orb.Ring
		for _, poly := range g {
			rings = append(rings, poly...)
		}
		return EsriPolygon{Rings: rings}
	default:
		return nil
	}
}
