package schema

import (
	"strconv"
	"strings"

	"github.com/koustreak/featureserv/internal/database"
)

// ColumnInfo describes a single column in a table
type ColumnInfo struct {
	Name       string
	DataType   string // format_type output: "integer", "character varying(40)", "geometry(Point,4326)"
	UDTName    string // underlying type name: int4, varchar, geometry, …
	IsNullable bool
	MaxLength  *int // nil for non-char types
}

// ForeignKey describes a foreign key by its first column pair.
// FromTable holds the referencing column; ToTable holds the referenced one.
// Composite marks keys that span more than one column.
type ForeignKey struct {
	Name       string
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
	Composite  bool
}

// TableDescriptor identifies a queryable relation. A table is spatial
// exactly when it has a geometry column.
type TableDescriptor struct {
	Schema         string
	Table          string
	GeometryColumn string // "" for non-spatial tables
	GeometryType   GeometryType
}

// IsSpatial reports whether the table has a geometry column.
func (t TableDescriptor) IsSpatial() bool { return t.GeometryColumn != "" }

// QualifiedName is the quoted "schema"."table" form used in SQL.
func (t TableDescriptor) QualifiedName() string {
	return database.QualifiedName(t.Schema, t.Table)
}

// FullName is the unquoted schema.table form used in descriptions.
func (t TableDescriptor) FullName() string {
	return t.Schema + "." + t.Table
}

// LayerDescriptor is a table exposed as an Esri layer (spatial) or table.
type LayerDescriptor struct {
	ID           int
	Name         string
	GeometryType GeometryType
	Table        TableDescriptor
}

// IsSpatial reports whether the layer is a feature layer rather than a table.
func (l LayerDescriptor) IsSpatial() bool { return l.Table.IsSpatial() }

// FieldDescriptor maps one relational column to a typed Esri field.
type FieldDescriptor struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Alias    string    `json:"alias"`
	Length   *int      `json:"length"`
	Nullable bool      `json:"nullable"`
	Editable bool      `json:"editable"`
}

// Cardinality of a relationship as seen from the table that reports it.
type Cardinality string

const (
	OneToOne  Cardinality = "esriRelCardinalityOneToOne"
	OneToMany Cardinality = "esriRelCardinalityOneToMany"
	ManyToOne Cardinality = "esriRelCardinalityManyToOne"
)

// Role of the reporting table in a relationship. The table that holds
// the foreign key is the origin.
type Role string

const (
	RoleOrigin      Role = "esriRelRoleOrigin"
	RoleDestination Role = "esriRelRoleDestination"
)

// RelationshipDescriptor is one foreign-key edge exposed as an Esri relationship.
type RelationshipDescriptor struct {
	ID                int         `json:"id"`
	Name              string      `json:"name"`
	RelatedTableID    int         `json:"relatedTableId"`
	Cardinality       Cardinality `json:"cardinality"`
	Role              Role        `json:"role"`
	KeyField          string      `json:"keyField"`
	Composite         bool        `json:"composite"`
	RelatedTableName  string      `json:"relatedTableName"`
	OriginColumn      string      `json:"originColumn"`
	DestinationColumn string      `json:"destinationColumn"`
}

// RelatedKeyField is the column on the related table that joins to KeyField.
func (r RelationshipDescriptor) RelatedKeyField() string {
	if r.Role == RoleOrigin {
		return r.DestinationColumn
	}
	return r.OriginColumn
}

// Relationships is the result of relationship introspection. Introspection
// is best-effort: on failure Items is empty and Err says why, so callers can
// tell "no relationships exist" apart from "could not find out".
type Relationships struct {
	Items []RelationshipDescriptor
	Err   error
}

// Degraded reports whether Items is an empty fallback after a failure.
func (r Relationships) Degraded() bool { return r.Err != nil }

// Find looks a relationship up by id, falling back to its name.
func (r Relationships) Find(ref string) (RelationshipDescriptor, bool) {
	ref = strings.Trim(strings.TrimSpace(ref), `"`)
	for _, rel := range r.Items {
		if strconv.Itoa(rel.ID) == ref {
			return rel, true
		}
	}
	for _, rel := range r.Items {
		if rel.Name == ref {
			return rel, true
		}
	}
	return RelationshipDescriptor{}, false
}

// Extent is a bounding box in WGS84 degrees.
type Extent struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// WorldExtent is used whenever no data-driven extent is available.
var WorldExtent = Extent{XMin: -180, YMin: -90, XMax: 180, YMax: 90}
