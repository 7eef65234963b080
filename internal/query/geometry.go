package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

var spatialRelations = map[string]string{
	"esriSpatialRelIntersects": "ST_Intersects",
	"esriSpatialRelContains":   "ST_Contains",
	"esriSpatialRelWithin":     "ST_Within",
	"esriSpatialRelTouches":    "ST_Touches",
	"esriSpatialRelOverlaps":   "ST_Overlaps",
	"esriSpatialRelCrosses":    "ST_Crosses",
	"esriSpatialRelDisjoint":   "ST_Disjoint",
}

// SpatialPredicate maps an Esri spatial relation to its PostGIS function.
// Unknown or empty relations mean intersects.
func SpatialPredicate(rel string) string {
	if fn, ok := spatialRelations[rel]; ok {
		return fn
	}
	return "ST_Intersects"
}

// ParseGeometry normalises a geometry filter to WKT. Accepted inputs are
// GeoJSON geometries, WKT, Esri JSON geometries (point, envelope, points,
// paths, rings) and bare "x,y" or "xmin,ymin,xmax,ymax" lists.
func ParseGeometry(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty geometry")
	}

	var g orb.Geometry
	var err error
	switch {
	case strings.HasPrefix(raw, "{"):
		g, err = parseJSONGeometry([]byte(raw))
	case looksNumeric(raw):
		g, err = parseCoordinateList(raw)
	default:
		g, err = wkt.Unmarshal(raw)
	}
	if err != nil {
		return "", err
	}
	if g == nil {
		return "", fmt.Errorf("unsupported geometry")
	}
	return wkt.MarshalString(g), nil
}

type esriGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`

	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
	XMin *float64 `json:"xmin"`
	YMin *float64 `json:"ymin"`
	XMax *float64 `json:"xmax"`
	YMax *float64 `json:"ymax"`

	Points [][]float64   `json:"points"`
	Paths  [][][]float64 `json:"paths"`
	Rings  [][][]float64 `json:"rings"`
}

func parseJSONGeometry(data []byte) (orb.Geometry, error) {
	var probe esriGeometry
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("geometry is not valid JSON: %w", err)
	}

	switch {
	case probe.Type != "" && len(probe.Coordinates) > 0:
		gj, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("invalid GeoJSON geometry: %w", err)
		}
		return gj.Geometry(), nil
	case probe.X != nil && probe.Y != nil:
		return orb.Point{*probe.X, *probe.Y}, nil
	case probe.XMin != nil && probe.YMin != nil && probe.XMax != nil && probe.YMax != nil:
		return envelope(*probe.XMin, *probe.YMin, *probe.XMax, *probe.YMax), nil
	case len(probe.Points) > 0:
		mp := make(orb.MultiPoint, 0, len(probe.Points))
		for _, p := range probe.Points {
			pt, err := toPoint(p)
			if err != nil {
				return nil, err
			}
			mp = append(mp, pt)
		}
		return mp, nil
	case len(probe.Paths) > 0:
		mls := make(orb.MultiLineString, 0, len(probe.Paths))
		for _, path := range probe.Paths {
			ls, err := toRing(path)
			if err != nil {
				return nil, err
			}
			mls = append(mls, orb.LineString(ls))
		}
		if len(mls) == 1 {
			return mls[0], nil
		}
		return mls, nil
	case len(probe.Rings) > 0:
		poly := make(orb.Polygon, 0, len(probe.Rings))
		for _, r := range probe.Rings {
			ring, err := toRing(r)
			if err != nil {
				return nil, err
			}
			poly = append(poly, orb.Ring(ring))
		}
		return poly, nil
	}
	return nil, fmt.Errorf("unrecognised geometry object")
}

func toPoint(c []float64) (orb.Point, error) {
	if len(c) < 2 {
		return orb.Point{}, fmt.Errorf("coordinate needs two values, got %d", len(c))
	}
	return orb.Point{c[0], c[1]}, nil
}

func toRing(coords [][]float64) ([]orb.Point, error) {
	pts := make([]orb.Point, 0, len(coords))
	for _, c := range coords {
		p, err := toPoint(c)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func envelope(xmin, ymin, xmax, ymax float64) orb.Polygon {
	return orb.Bound{Min: orb.Point{xmin, ymin}, Max: orb.Point{xmax, ymax}}.ToPolygon()
}

func looksNumeric(s string) bool {
	c := s[0]
	return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9')
}

func parseCoordinateList(s string) (orb.Geometry, error) {
	vals, ok := parseFloats(s)
	if !ok {
		return nil, fmt.Errorf("invalid coordinate list %q", s)
	}
	switch len(vals) {
	case 2:
		return orb.Point{vals[0], vals[1]}, nil
	case 4:
		return envelope(vals[0], vals[1], vals[2], vals[3]), nil
	default:
		return nil, fmt.Errorf("coordinate list needs 2 or 4 values, got %d", len(vals))
	}
}

// parseFloats splits a comma list into floats; ok is false if any part
// is not a number.
func parseFloats(s string) ([]float64, bool) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
