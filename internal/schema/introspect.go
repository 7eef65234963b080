// Package schema discovers the tables, columns, geometry and foreign keys
// of a PostgreSQL/PostGIS schema and describes them in Esri terms.
package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/errs"
	"github.com/koustreak/featureserv/internal/logger"
)

// Tables that PostGIS installs into user schemas. They are never layers.
var systemTables = []string{
	"spatial_ref_sys",
	"geography_columns",
	"geometry_columns",
	"raster_columns",
	"raster_overviews",
}

// Introspector reads catalog metadata through a database.DB.
type Introspector struct {
	db            database.DB
	schemaTimeout time.Duration
}

// NewIntrospector creates an introspector. schemaTimeout bounds every
// exported catalog lookup; zero disables the bound.
func NewIntrospector(db database.DB, schemaTimeout time.Duration) *Introspector {
	return &Introspector{db: db, schemaTimeout: schemaTimeout}
}

// bounded runs fn under the schema timeout and reports a fired timer as
// SchemaTimeout. what names the lookup in the error message.
func bounded[T any](ctx context.Context, i *Introspector, what string, fn func(context.Context) (T, error)) (T, error) {
	v, err := database.WithDeadline(ctx, i.schemaTimeout, fn)
	if errors.Is(err, database.ErrDeadline) {
		return v, errs.Newf(errs.ErrKindSchemaTimeout, "%s timed out after %s", what, i.schemaTimeout)
	}
	return v, err
}

// TableExists checks whether a table, view or materialized view exists.
func (i *Introspector) TableExists(ctx context.Context, schema, table string) (bool, error) {
	return bounded(ctx, i, "table lookup of "+schema+"."+table, func(ctx context.Context) (bool, error) {
		return i.tableExists(ctx, schema, table)
	})
}

func (i *Introspector) tableExists(ctx context.Context, schema, table string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1
			FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1
			  AND c.relname = $2
			  AND c.relkind IN ('r', 'v', 'm', 'p')
		)`

	var exists bool
	if err := i.db.QueryRow(ctx, q, schema, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("table exists check: %w", err)
	}
	return exists, nil
}

const geometryColumnQuery = `
		SELECT a.attname::text,
		       pg_catalog.format_type(a.atttypid, a.atttypmod)
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c     ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_type ty     ON ty.oid = a.atttypid
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		  AND ty.typname = 'geometry'
		ORDER BY a.attnum
		LIMIT 1`

// DetectGeometryColumn returns the first geometry column of the table in
// column order, or "" when the table has none.
func (i *Introspector) DetectGeometryColumn(ctx context.Context, schema, table string) (string, error) {
	return bounded(ctx, i, "geometry column lookup of "+schema+"."+table, func(ctx context.Context) (string, error) {
		col, _, err := i.geometryColumn(ctx, schema, table)
		return col, err
	})
}

func (i *Introspector) geometryColumn(ctx context.Context, schema, table string) (string, string, error) {
	rows, err := i.db.Query(ctx, geometryColumnQuery, schema, table)
	if err != nil {
		return "", "", fmt.Errorf("detect geometry column: %w", err)
	}
	defer rows.Close()

	var col, format string
	if rows.Next() {
		if err := rows.Scan(&col, &format); err != nil {
			return "", "", fmt.Errorf("scan geometry column: %w", err)
		}
	}
	return col, format, rows.Err()
}

// Describe builds the descriptor of a single table. A missing table is
// reported as NotFound.
func (i *Introspector) Describe(ctx context.Context, schema, table string) (*TableDescriptor, error) {
	return bounded(ctx, i, "introspection of "+schema+"."+table, func(ctx context.Context) (*TableDescriptor, error) {
		return i.describe(ctx, schema, table)
	})
}

func (i *Introspector) describe(ctx context.Context, schema, table string) (*TableDescriptor, error) {
	exists, err := i.tableExists(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %s.%s not found", schema, table)
	}

	col, format, err := i.geometryColumn(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	td := &TableDescriptor{Schema: schema, Table: table, GeometryColumn: col}
	if td.IsSpatial() {
		td.GeometryType = i.resolveGeometryType(ctx, *td, format)
	}
	return td, nil
}

// GeometryType reports the geometry type of a spatial table. Columns
// declared as plain geometry are resolved by sampling the first row.
func (i *Introspector) GeometryType(ctx context.Context, td TableDescriptor) GeometryType {
	if !td.IsSpatial() {
		return GeometryNone
	}
	if td.GeometryType != GeometryNone {
		return td.GeometryType
	}
	gt, err := bounded(ctx, i, "geometry type lookup of "+td.FullName(), func(ctx context.Context) (GeometryType, error) {
		_, format, err := i.geometryColumn(ctx, td.Schema, td.Table)
		if err != nil {
			return GeometryGeneric, err
		}
		return i.resolveGeometryType(ctx, td, format), nil
	})
	if err != nil {
		logger.FromContext(ctx).WarnWith("geometry type lookup failed", err, map[string]any{
			"table": td.FullName(),
		})
		return GeometryGeneric
	}
	return gt
}

func (i *Introspector) resolveGeometryType(ctx context.Context, td TableDescriptor, format string) GeometryType {
	declared := ParseGeometryType(format)
	if !declared.IsGeneric() {
		return declared
	}

	q := fmt.Sprintf(`SELECT ST_GeometryType(%[1]s) FROM %[2]s WHERE %[1]s IS NOT NULL LIMIT 1`,
		database.QuoteIdent(td.GeometryColumn), td.QualifiedName())

	var sampled *string
	if err := i.db.QueryRow(ctx, q).Scan(&sampled); err != nil {
		// An empty table has nothing to sample; keep the declared type.
		return GeometryGeneric
	}
	if sampled == nil {
		return GeometryGeneric
	}
	return ParseGeometryType(*sampled)
}

// Columns returns the table's columns in ordinal order.
func (i *Introspector) Columns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	return bounded(ctx, i, "column lookup of "+schema+"."+table, func(ctx context.Context) ([]ColumnInfo, error) {
		return i.columns(ctx, schema, table)
	})
}

func (i *Introspector) columns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	const q = `
		SELECT
			a.attname::text                                  AS column_name,
			pg_catalog.format_type(a.atttypid, a.atttypmod)  AS data_type,
			ty.typname::text                                 AS udt_name,
			NOT a.attnotnull                                 AS is_nullable,
			CASE WHEN ty.typname IN ('varchar', 'bpchar') AND a.atttypmod > 4
			     THEN a.atttypmod - 4
			END                                              AS max_length
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c     ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_type ty     ON ty.oid = a.atttypid
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum`

	rows, err := i.db.Query(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	cols := make([]ColumnInfo, 0)
	for rows.Next() {
		var (
			col    ColumnInfo
			maxLen *int32
		)
		if err := rows.Scan(&col.Name, &col.DataType, &col.UDTName, &col.IsNullable, &maxLen); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if maxLen != nil {
			n := int(*maxLen)
			col.MaxLength = &n
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}

// GetFields returns the Esri field list of a table.
func (i *Introspector) GetFields(ctx context.Context, schema, table string) ([]FieldDescriptor, error) {
	cols, err := i.Columns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	return FieldsFromColumns(cols), nil
}

// Extent returns the bounding box of the table's geometry, or WorldExtent
// when the table is empty, non-spatial or the extent cannot be computed.
func (i *Introspector) Extent(ctx context.Context, td TableDescriptor) Extent {
	if !td.IsSpatial() {
		return WorldExtent
	}

	geom := database.QuoteIdent(td.GeometryColumn)
	q := fmt.Sprintf(`
		SELECT ST_XMin(e)::float8, ST_YMin(e)::float8, ST_XMax(e)::float8, ST_YMax(e)::float8
		FROM (SELECT ST_Extent(%[1]s) AS e FROM %[2]s WHERE %[1]s IS NOT NULL) x`,
		geom, td.QualifiedName())

	box, err := bounded(ctx, i, "extent lookup of "+td.FullName(), func(ctx context.Context) ([4]*float64, error) {
		var b [4]*float64
		err := i.db.QueryRow(ctx, q).Scan(&b[0], &b[1], &b[2], &b[3])
		return b, err
	})
	if err != nil {
		logger.FromContext(ctx).WarnWith("extent lookup failed, using world extent", err, map[string]any{
			"table": td.FullName(),
		})
		return WorldExtent
	}
	for _, v := range box {
		if v == nil {
			return WorldExtent
		}
	}
	return Extent{XMin: *box[0], YMin: *box[1], XMax: *box[2], YMax: *box[3]}
}

// --- Enumeration ---

type enumCacheKey struct{}

type enumCache struct {
	mu       sync.Mutex
	bySchema map[string][]LayerDescriptor
}

// WithEnumerationCache returns a context under which EnumerateTables runs at
// most once per schema. Install it once per request: a request that needs
// the layer list several times then sees one consistent numbering.
func WithEnumerationCache(ctx context.Context) context.Context {
	if _, ok := ctx.Value(enumCacheKey{}).(*enumCache); ok {
		return ctx
	}
	return context.WithValue(ctx, enumCacheKey{}, &enumCache{bySchema: make(map[string][]LayerDescriptor)})
}

// EnumerateTables lists the schema's tables and views as layers.
//
// Spatial tables come first, then non-spatial ones, each group sorted by
// name; ids are positions in that order starting at 0. A schema without
// user tables yields an empty slice. The whole enumeration is bounded by
// the schema timeout.
func (i *Introspector) EnumerateTables(ctx context.Context, schema string) ([]LayerDescriptor, error) {
	cache, _ := ctx.Value(enumCacheKey{}).(*enumCache)
	if cache != nil {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		if layers, ok := cache.bySchema[schema]; ok {
			return slices.Clone(layers), nil
		}
	}

	layers, err := bounded(ctx, i, fmt.Sprintf("schema introspection of %q", schema), func(ctx context.Context) ([]LayerDescriptor, error) {
		return i.enumerate(ctx, schema)
	})
	if err != nil {
		return nil, err
	}

	if cache != nil {
		cache.bySchema[schema] = slices.Clone(layers)
	}
	return layers, nil
}

func (i *Introspector) enumerate(ctx context.Context, schema string) ([]LayerDescriptor, error) {
	const q = `
		SELECT c.relname::text AS table_name,
		       g.attname::text AS geometry_column,
		       g.geom_format   AS geometry_format
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN LATERAL (
			SELECT a.attname,
			       pg_catalog.format_type(a.atttypid, a.atttypmod) AS geom_format
			FROM pg_catalog.pg_attribute a
			JOIN pg_catalog.pg_type ty ON ty.oid = a.atttypid
			WHERE a.attrelid = c.oid
			  AND a.attnum > 0
			  AND NOT a.attisdropped
			  AND ty.typname = 'geometry'
			ORDER BY a.attnum
			LIMIT 1
		) g ON true
		WHERE n.nspname = $1
		  AND c.relkind IN ('r', 'v', 'm', 'p')
		  AND NOT c.relispartition
		  AND c.relname::text <> ALL($2::text[])
		ORDER BY c.relname`

	rows, err := i.db.Query(ctx, q, schema, systemTables)
	if err != nil {
		return nil, fmt.Errorf("enumerate tables: %w", err)
	}

	type found struct {
		td     TableDescriptor
		format string
	}
	var tables []found
	func() {
		defer rows.Close()
		for rows.Next() {
			var (
				name         string
				geom, format *string
			)
			if err = rows.Scan(&name, &geom, &format); err != nil {
				err = fmt.Errorf("scan table: %w", err)
				return
			}
			f := found{td: TableDescriptor{Schema: schema, Table: name}}
			if geom != nil {
				f.td.GeometryColumn = *geom
			}
			if format != nil {
				f.format = *format
			}
			tables = append(tables, f)
		}
		err = rows.Err()
	}()
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(tables, func(a, b found) int {
		if a.td.IsSpatial() != b.td.IsSpatial() {
			if a.td.IsSpatial() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.td.Table, b.td.Table)
	})

	layers := make([]LayerDescriptor, 0, len(tables))
	for id, f := range tables {
		td := f.td
		if td.IsSpatial() {
			td.GeometryType = i.resolveGeometryType(ctx, td, f.format)
		}
		layers = append(layers, LayerDescriptor{
			ID:           id,
			Name:         td.Table,
			GeometryType: td.GeometryType,
			Table:        td,
		})
	}
	return layers, nil
}

// ResolveLayerByID maps a layer id to its table.
func (i *Introspector) ResolveLayerByID(ctx context.Context, schema string, id int) (*LayerDescriptor, error) {
	layers, err := i.EnumerateTables(ctx, schema)
	if err != nil {
		return nil, err
	}
	for _, l := range layers {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, errs.Newf(errs.ErrKindNotFound, "layer %d not found in schema %q", id, schema)
}

// --- Relationships ---

// ForeignKeys lists the foreign keys in which table takes part on either
// side, ordered by constraint name. A multi-column key is described by its
// first column pair and flagged Composite.
func (i *Introspector) ForeignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error) {
	return bounded(ctx, i, "foreign key lookup of "+schema+"."+table, func(ctx context.Context) ([]ForeignKey, error) {
		return i.foreignKeys(ctx, schema, table)
	})
}

func (i *Introspector) foreignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error) {
	// conkey and confkey are parallel arrays; unnesting them together keeps
	// each referencing column next to the column it references.
	const q = `
		SELECT con.conname::text AS constraint_name,
		       src.relname::text AS from_table,
		       sa.attname::text  AS from_column,
		       dst.relname::text AS to_table,
		       da.attname::text  AS to_column
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_namespace n ON n.oid = con.connamespace
		JOIN pg_catalog.pg_class src   ON src.oid = con.conrelid
		JOIN pg_catalog.pg_class dst   ON dst.oid = con.confrelid
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(from_attnum, to_attnum, pos)
		JOIN pg_catalog.pg_attribute sa ON sa.attrelid = con.conrelid  AND sa.attnum = k.from_attnum
		JOIN pg_catalog.pg_attribute da ON da.attrelid = con.confrelid AND da.attnum = k.to_attnum
		WHERE con.contype = 'f'
		  AND n.nspname = $1
		  AND dst.relnamespace = n.oid
		  AND (src.relname = $2 OR dst.relname = $2)
		ORDER BY con.conname, k.pos`

	rows, err := i.db.Query(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}
	defer rows.Close()

	fks := make([]ForeignKey, 0)
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Name, &fk.FromTable, &fk.FromColumn, &fk.ToTable, &fk.ToColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		if n := len(fks); n > 0 && fks[n-1].Name == fk.Name {
			fks[n-1].Composite = true
			continue
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

// uniqueColumns returns, per table, the columns covered on their own by a
// unique index (primary keys included).
func (i *Introspector) uniqueColumns(ctx context.Context, schema string) (map[string]map[string]bool, error) {
	const q = `
		SELECT t.relname::text, a.attname::text
		FROM pg_catalog.pg_index ix
		JOIN pg_catalog.pg_class t      ON t.oid = ix.indrelid
		JOIN pg_catalog.pg_namespace n  ON n.oid = t.relnamespace
		JOIN pg_catalog.pg_attribute a  ON a.attrelid = t.oid AND a.attnum = ix.indkey[0]
		WHERE n.nspname = $1
		  AND ix.indisunique
		  AND ix.indnkeyatts = 1
		  AND ix.indpred IS NULL`

	rows, err := i.db.Query(ctx, q, schema)
	if err != nil {
		return nil, fmt.Errorf("list unique columns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]bool)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan unique column: %w", err)
		}
		if out[table] == nil {
			out[table] = make(map[string]bool)
		}
		out[table][column] = true
	}
	return out, rows.Err()
}

// GetRelationships describes the foreign keys touching table as Esri
// relationships. Failures never propagate: they are logged and reported
// through Relationships.Err with an empty item list.
func (i *Introspector) GetRelationships(ctx context.Context, schema, table string) Relationships {
	items, err := bounded(ctx, i, "relationship lookup of "+schema+"."+table, func(ctx context.Context) ([]RelationshipDescriptor, error) {
		return i.relationships(ctx, schema, table)
	})
	if err != nil {
		logger.FromContext(ctx).WarnWith("relationship introspection failed", err, map[string]any{
			"schema": schema,
			"table":  table,
		})
		return Relationships{Items: []RelationshipDescriptor{}, Err: err}
	}
	return Relationships{Items: items}
}

func (i *Introspector) relationships(ctx context.Context, schema, table string) ([]RelationshipDescriptor, error) {
	fks, err := i.foreignKeys(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if len(fks) == 0 {
		return []RelationshipDescriptor{}, nil
	}

	unique, err := i.uniqueColumns(ctx, schema)
	if err != nil {
		return nil, err
	}

	layers, err := i.EnumerateTables(ctx, schema)
	if err != nil {
		return nil, err
	}
	layerIDs := make(map[string]int, len(layers))
	for _, l := range layers {
		layerIDs[l.Name] = l.ID
	}

	rels := make([]RelationshipDescriptor, 0, len(fks))
	for idx, fk := range fks {
		holdsKey := fk.FromTable == table
		rel := RelationshipDescriptor{
			ID:                idx,
			Name:              fk.Name,
			Cardinality:       deriveCardinality(unique[fk.FromTable][fk.FromColumn], unique[fk.ToTable][fk.ToColumn], holdsKey),
			OriginColumn:      fk.FromColumn,
			DestinationColumn: fk.ToColumn,
			Composite:         fk.Composite,
		}
		if holdsKey {
			rel.Role = RoleOrigin
			rel.KeyField = fk.FromColumn
			rel.RelatedTableName = fk.ToTable
		} else {
			rel.Role = RoleDestination
			rel.KeyField = fk.ToColumn
			rel.RelatedTableName = fk.FromTable
		}
		rel.RelatedTableID = -1
		if id, ok := layerIDs[rel.RelatedTableName]; ok {
			rel.RelatedTableID = id
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// deriveCardinality classifies a foreign key from the uniqueness of both
// ends. holderUnique is the referencing column, refUnique the referenced
// one; fromHolder says which side is asking.
func deriveCardinality(holderUnique, refUnique, fromHolder bool) Cardinality {
	switch {
	case holderUnique && refUnique:
		return OneToOne
	case holderUnique:
		// unique holder pointing at a non-unique column: one holder, many targets
		if fromHolder {
			return OneToMany
		}
		return ManyToOne
	default:
		if fromHolder {
			return ManyToOne
		}
		return OneToMany
	}
}
