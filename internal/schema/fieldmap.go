package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// FieldType is an Esri field type.
type FieldType string

const (
	FieldOID          FieldType = "esriFieldTypeOID"
	FieldGlobalID     FieldType = "esriFieldTypeGlobalID"
	FieldInteger      FieldType = "esriFieldTypeInteger"
	FieldBigInteger   FieldType = "esriFieldTypeBigInteger"
	FieldSmallInteger FieldType = "esriFieldTypeSmallInteger"
	FieldDouble       FieldType = "esriFieldTypeDouble"
	FieldString       FieldType = "esriFieldTypeString"
	FieldDate         FieldType = "esriFieldTypeDate"
	FieldGUID         FieldType = "esriFieldTypeGUID"
)

// IsInteger reports whether values of t are whole numbers.
func (t FieldType) IsInteger() bool {
	switch t {
	case FieldOID, FieldInteger, FieldBigInteger, FieldSmallInteger:
		return true
	}
	return false
}

const (
	defaultStringLength = 255
	guidStringLength    = 38
)

// ClassifyColumn maps a catalog column type to an Esri field type. udtName
// wins over dataType; dataType is only consulted for names udtName does not
// cover. Anything unrecognised is a string.
func ClassifyColumn(dataType, udtName string) FieldType {
	if t, ok := classifyTypeName(udtName); ok {
		return t
	}
	base := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if t, ok := classifyTypeName(base); ok {
		return t
	}
	return FieldString
}

func classifyTypeName(name string) (FieldType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "int4", "integer", "int", "serial", "serial4":
		return FieldInteger, true
	case "int2", "smallint", "smallserial", "serial2", "bool", "boolean":
		return FieldSmallInteger, true
	case "int8", "bigint", "bigserial", "serial8":
		return FieldBigInteger, true
	case "numeric", "decimal", "float4", "real", "float8", "double precision", "money":
		return FieldDouble, true
	case "text", "varchar", "character varying", "bpchar", "character", "char", "name", "citext":
		return FieldString, true
	case "uuid":
		return FieldGUID, true
	case "date":
		return FieldDate, true
	}
	if strings.HasPrefix(name, "timestamp") || strings.HasPrefix(name, "time") {
		return FieldDate, true
	}
	return "", false
}

// ClassifyValue infers an Esri field type from a decoded driver value. It is
// used for result columns that have no catalog entry (joined or computed).
func ClassifyValue(v any) FieldType {
	switch v.(type) {
	case int16, int8, uint8, bool:
		return FieldSmallInteger
	case int32, int, uint16:
		return FieldInteger
	case int64, uint32, uint64:
		return FieldBigInteger
	case float32, float64, pgtype.Numeric:
		return FieldDouble
	case time.Time, pgtype.Date, pgtype.Timestamp, pgtype.Timestamptz:
		return FieldDate
	case [16]byte, uuid.UUID, pgtype.UUID:
		return FieldGUID
	default:
		return FieldString
	}
}

// IsGeometryType reports whether a udt name is a PostGIS spatial type.
// Such columns are carried as feature geometry, never as attributes.
func IsGeometryType(udtName string) bool {
	switch strings.ToLower(udtName) {
	case "geometry", "geography":
		return true
	}
	return false
}

// FieldsFromColumns builds the Esri field list for a table's columns.
//
// Spatial columns are skipped. The first integer column named id or
// objectid becomes the OID field; a column named globalid becomes the
// GlobalID field.
func FieldsFromColumns(cols []ColumnInfo) []FieldDescriptor {
	fields := make([]FieldDescriptor, 0, len(cols))
	haveOID := false
	for _, c := range cols {
		if IsGeometryType(c.UDTName) {
			continue
		}
		t := ClassifyColumn(c.DataType, c.UDTName)
		switch lower := strings.ToLower(c.Name); {
		case t.IsInteger() && !haveOID && (lower == "id" || lower == "objectid"):
			t = FieldOID
			haveOID = true
		case lower == "globalid":
			t = FieldGlobalID
		}
		fields = append(fields, FieldDescriptor{
			Name:     c.Name,
			Type:     t,
			Alias:    c.Name,
			Length:   fieldLength(t, c.MaxLength),
			Nullable: c.IsNullable,
		})
	}
	return fields
}

func fieldLength(t FieldType, max *int) *int {
	var n int
	switch t {
	case FieldString:
		n = defaultStringLength
		if max != nil && *max > 0 {
			n = *max
		}
	case FieldGUID, FieldGlobalID:
		n = guidStringLength
	default:
		return nil
	}
	return &n
}

// GeometryType is a PostGIS geometry type name, upper-cased and without
// dimension suffixes.
type GeometryType string

const (
	GeometryNone            GeometryType = ""
	GeometryGeneric         GeometryType = "GEOMETRY"
	GeometryPoint           GeometryType = "POINT"
	GeometryMultiPoint      GeometryType = "MULTIPOINT"
	GeometryLineString      GeometryType = "LINESTRING"
	GeometryMultiLineString GeometryType = "MULTILINESTRING"
	GeometryPolygon         GeometryType = "POLYGON"
	GeometryMultiPolygon    GeometryType = "MULTIPOLYGON"
	GeometryCollection      GeometryType = "GEOMETRYCOLLECTION"
)

var typmodRe = regexp.MustCompile(`(?i)^geometry\(\s*([a-z]+)`)

// ParseGeometryType normalises the spellings PostGIS uses for geometry
// types: "geometry(MultiPolygon,4326)" from format_type, "ST_Point" from
// ST_GeometryType and "POINTZ" from geometry_columns.
func ParseGeometryType(s string) GeometryType {
	s = strings.TrimSpace(s)
	if s == "" {
		return GeometryNone
	}
	if m := typmodRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else if strings.EqualFold(s, "geometry") {
		return GeometryGeneric
	}
	s = strings.ToUpper(s)
	s = strings.TrimPrefix(s, "ST_")
	for _, suffix := range []string{"ZM", "Z", "M"} {
		trimmed := strings.TrimSuffix(s, suffix)
		if trimmed != s && isKnownGeometry(GeometryType(trimmed)) {
			s = trimmed
			break
		}
	}
	return GeometryType(s)
}

func isKnownGeometry(g GeometryType) bool {
	switch g {
	case GeometryGeneric, GeometryPoint, GeometryMultiPoint, GeometryLineString,
		GeometryMultiLineString, GeometryPolygon, GeometryMultiPolygon, GeometryCollection:
		return true
	}
	return false
}

// IsGeneric reports whether the column type does not pin a concrete shape,
// so the actual type has to be sampled from the data.
func (g GeometryType) IsGeneric() bool {
	return g == GeometryGeneric || g == GeometryCollection || !isKnownGeometry(g)
}

// Esri returns the esriGeometry* name. Generic and unknown types report as
// points, which is what clients fall back to anyway.
func (g GeometryType) Esri() string {
	switch g {
	case GeometryNone:
		return ""
	case GeometryMultiPoint:
		return "esriGeometryMultipoint"
	case GeometryLineString, GeometryMultiLineString:
		return "esriGeometryPolyline"
	case GeometryPolygon, GeometryMultiPolygon:
		return "esriGeometryPolygon"
	default:
		return "esriGeometryPoint"
	}
}
