// Package query turns Esri query parameters into parameterized PostGIS SQL
// and runs it under a time budget.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/koustreak/featureserv/internal/errs"
)

// Format selects the response encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
)

// Request is the parsed set of recognised query options. Unrecognised
// parameters are ignored.
type Request struct {
	Where                string
	DefinitionExpression string
	BBox                 string
	Geometry             string
	SpatialRel           string
	OrderByFields        string
	ResultOffset         int
	ResultRecordCount    *int // nil means the configured default
	ReturnCountOnly      bool
	ReturnIdsOnly        bool
	ReturnGeometry       bool
	OutFields            []string // nil means all fields
	ObjectIDs            []string
	RelationshipID       string
	Format               Format
}

// DefaultRequest is a request with no parameters at all.
func DefaultRequest() Request {
	return Request{ReturnGeometry: true, Format: FormatJSON}
}

// ParseRequest reads a Request from query-string or form values.
// Malformed numbers are rejected as invalid input.
func ParseRequest(v url.Values) (Request, error) {
	req := DefaultRequest()

	req.Where = strings.TrimSpace(v.Get("where"))
	req.DefinitionExpression = strings.TrimSpace(v.Get("definitionExpression"))
	req.BBox = strings.TrimSpace(v.Get("bbox"))
	req.Geometry = strings.TrimSpace(v.Get("geometry"))
	req.SpatialRel = strings.TrimSpace(v.Get("spatialRel"))
	req.OrderByFields = strings.TrimSpace(v.Get("orderByFields"))
	req.RelationshipID = strings.TrimSpace(v.Get("relationshipId"))

	if s := strings.TrimSpace(v.Get("resultOffset")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return req, errs.Newf(errs.ErrKindInvalidInput, "invalid resultOffset %q", s)
		}
		req.ResultOffset = n
	}
	if s := strings.TrimSpace(v.Get("resultRecordCount")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return req, errs.Newf(errs.ErrKindInvalidInput, "invalid resultRecordCount %q", s)
		}
		req.ResultRecordCount = &n
	}

	req.ReturnCountOnly = parseBool(v.Get("returnCountOnly"), false)
	req.ReturnIdsOnly = parseBool(v.Get("returnIdsOnly"), false)
	req.ReturnGeometry = parseBool(v.Get("returnGeometry"), true)

	if s := strings.TrimSpace(v.Get("outFields")); s != "" && s != "*" {
		req.OutFields = splitList(s)
	}
	req.ObjectIDs = splitList(strings.Trim(strings.TrimSpace(v.Get("objectIds")), "[]"))

	switch strings.ToLower(strings.TrimSpace(v.Get("f"))) {
	case "geojson":
		req.Format = FormatGeoJSON
	default:
		req.Format = FormatJSON
	}
	return req, nil
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return def
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// HasOutField reports whether name survives the outFields restriction.
func (r Request) HasOutField(name string) bool {
	if r.OutFields == nil {
		return true
	}
	for _, f := range r.OutFields {
		if f == "*" || strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}
