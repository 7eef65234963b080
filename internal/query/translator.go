package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/errs"
	"github.com/koustreak/featureserv/internal/logger"
	"github.com/koustreak/featureserv/internal/schema"
)

// Names of the helper columns the spatial projection adds to every row.
const (
	GeoJSONColumn      = "geojson_geom"
	GeometryTypeColumn = "geom_type"
)

// Statement is a ready-to-run SQL statement.
type Statement struct {
	SQL  string
	Args []any

	// Limit is the page size the caller asked for, 0 when unlimited. The
	// SQL fetches one row beyond it so truncation can be detected.
	Limit int
}

// Options carries the per-layer facts the translator needs besides the request.
type Options struct {
	// MaxRecordCount is the page size used when the request does not set one,
	// and the largest page a request may ask for.
	MaxRecordCount int

	// IDField is the object-id column that objectIds filter on.
	IDField string

	// Columns, when set, is the set of columns orderByFields may name.
	Columns []string
}

// Translator builds SQL for one table.
type Translator struct {
	table schema.TableDescriptor
	opts  Options
}

// NewTranslator creates a translator for td.
func NewTranslator(td schema.TableDescriptor, opts Options) *Translator {
	return &Translator{table: td, opts: opts}
}

// builder accumulates SQL text and bound arguments.
type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) write(s string) { b.sb.WriteString(s) }

// bind adds v as the next positional parameter and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return database.Placeholder(len(b.args))
}

// Select builds the feature query: base projection, filters, ordering and
// pagination, in that order.
func (t *Translator) Select(ctx context.Context, req Request) (Statement, error) {
	b := &builder{}
	geom := database.QuoteIdent(t.table.GeometryColumn)

	if t.table.IsSpatial() {
		fmt.Fprintf(&b.sb, "SELECT *, ST_AsGeoJSON(%[1]s) AS %[2]s, ST_GeometryType(%[1]s) AS %[3]s FROM %[4]s WHERE %[1]s IS NOT NULL",
			geom, GeoJSONColumn, GeometryTypeColumn, t.table.QualifiedName())
	} else {
		fmt.Fprintf(&b.sb, "SELECT * FROM %s WHERE 1=1", t.table.QualifiedName())
	}

	if err := t.filters(ctx, b, req); err != nil {
		return Statement{}, err
	}
	if err := t.orderBy(b, req.OrderByFields); err != nil {
		return Statement{}, err
	}

	limit := t.opts.MaxRecordCount
	if req.ResultRecordCount != nil {
		limit = *req.ResultRecordCount
		if ceiling := t.opts.MaxRecordCount; ceiling > 0 && limit > ceiling {
			limit = ceiling
		}
	}
	if req.ResultOffset > 0 {
		b.write(" OFFSET " + b.bind(req.ResultOffset))
	}
	if limit > 0 {
		b.write(" LIMIT " + b.bind(limit+1))
	}

	return Statement{SQL: b.sb.String(), Args: b.args, Limit: limit}, nil
}

// Estimate builds a COUNT plus extent over the filtered, unpaginated rows.
func (t *Translator) Estimate(ctx context.Context, req Request) (Statement, error) {
	b := &builder{}
	if t.table.IsSpatial() {
		geom := database.QuoteIdent(t.table.GeometryColumn)
		fmt.Fprintf(&b.sb, "SELECT COUNT(*)::bigint AS count, "+
			"ST_XMin(ST_Extent(%[1]s))::float8 AS xmin, ST_YMin(ST_Extent(%[1]s))::float8 AS ymin, "+
			"ST_XMax(ST_Extent(%[1]s))::float8 AS xmax, ST_YMax(ST_Extent(%[1]s))::float8 AS ymax "+
			"FROM %[2]s WHERE %[1]s IS NOT NULL", geom, t.table.QualifiedName())
	} else {
		fmt.Fprintf(&b.sb, "SELECT COUNT(*)::bigint AS count, NULL::float8 AS xmin, NULL::float8 AS ymin, "+
			"NULL::float8 AS xmax, NULL::float8 AS ymax FROM %s WHERE 1=1", t.table.QualifiedName())
	}
	if err := t.filters(ctx, b, req); err != nil {
		return Statement{}, err
	}
	return Statement{SQL: b.sb.String(), Args: b.args}, nil
}

func (t *Translator) filters(ctx context.Context, b *builder, req Request) error {
	if w := RewriteWhere(req.Where); w != "" {
		b.write(" AND (" + w + ")")
	}
	if d := RewriteWhere(req.DefinitionExpression); d != "" {
		b.write(" AND (" + d + ")")
	}

	if t.table.IsSpatial() {
		geom := database.QuoteIdent(t.table.GeometryColumn)
		if bbox, ok := ParseBBox(req.BBox); ok {
			fmt.Fprintf(&b.sb, " AND ST_Intersects(%s, ST_MakeEnvelope(%s, %s, %s, %s, 4326))",
				geom, b.bind(bbox[0]), b.bind(bbox[1]), b.bind(bbox[2]), b.bind(bbox[3]))
		}
		if req.Geometry != "" {
			wktGeom, err := ParseGeometry(req.Geometry)
			if err != nil {
				logger.FromContext(ctx).WarnWith("ignoring unparseable geometry filter", err, map[string]any{
					"table": t.table.FullName(),
				})
			} else {
				fmt.Fprintf(&b.sb, " AND %s(%s, ST_GeomFromText(%s, 4326))",
					SpatialPredicate(req.SpatialRel), geom, b.bind(wktGeom))
			}
		}
	}

	if len(req.ObjectIDs) > 0 {
		if t.opts.IDField == "" {
			return errs.Newf(errs.ErrKindInvalidInput, "objectIds given but %s has no object id field", t.table.FullName())
		}
		fmt.Fprintf(&b.sb, " AND %s::text = ANY(%s)", database.QuoteIdent(t.opts.IDField), b.bind(req.ObjectIDs))
	}
	return nil
}

func (t *Translator) orderBy(b *builder, raw string) error {
	terms, err := ParseOrderBy(raw)
	if err != nil || len(terms) == 0 {
		return err
	}

	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		if !t.knownColumn(term.Field) {
			return errs.Newf(errs.ErrKindInvalidInput, "cannot order by unknown field %q", term.Field)
		}
		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}
		parts = append(parts, database.QuoteIdent(term.Field)+" "+dir)
	}
	b.write(" ORDER BY " + strings.Join(parts, ", "))
	return nil
}

func (t *Translator) knownColumn(name string) bool {
	if len(t.opts.Columns) == 0 {
		return true
	}
	for _, c := range t.opts.Columns {
		if c == name {
			return true
		}
	}
	return false
}

var (
	likeRe    = regexp.MustCompile(`(?i)\bLIKE\b`)
	trivialRe = regexp.MustCompile(`^\s*1\s*=\s*1\s*$`)
)

// RewriteWhere prepares an Esri filter expression for PostgreSQL. The
// expression is raw SQL supplied by the caller; only LIKE is rewritten to
// the case-insensitive ILIKE. "1=1" and empty input yield "".
func RewriteWhere(expr string) string {
	if expr == "" || trivialRe.MatchString(expr) {
		return ""
	}
	return likeRe.ReplaceAllString(expr, "ILIKE")
}

// ParseBBox parses exactly four comma-separated numbers.
func ParseBBox(s string) ([4]float64, bool) {
	var out [4]float64
	if s == "" {
		return out, false
	}
	vals, ok := parseFloats(s)
	if !ok || len(vals) != 4 {
		return out, false
	}
	copy(out[:], vals)
	return out, true
}
