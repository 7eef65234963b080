package query

import (
	"fmt"

	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/schema"
)

// RelatedLookup describes how rows of one table join to a source object.
type RelatedLookup struct {
	Source       schema.TableDescriptor
	SourceID     string // object-id column of the source table
	SourceKey    string // join column on the source table
	Related      schema.TableDescriptor
	RelatedKey   string // join column on the related table
	Expression   string // definitionExpression, applied to the related rows
	WithGeometry bool
}

// Related builds the query for the rows related to one source object id.
func Related(l RelatedLookup, objectID string) Statement {
	b := &builder{}

	b.write("SELECT r.*")
	if l.WithGeometry && l.Related.IsSpatial() {
		geom := "r." + database.QuoteIdent(l.Related.GeometryColumn)
		fmt.Fprintf(&b.sb, ", ST_AsGeoJSON(%[1]s) AS %[2]s, ST_GeometryType(%[1]s) AS %[3]s",
			geom, GeoJSONColumn, GeometryTypeColumn)
	}
	fmt.Fprintf(&b.sb, " FROM %s r WHERE r.%s IN (SELECT s.%s FROM %s s WHERE s.%s::text = %s)",
		l.Related.QualifiedName(),
		database.QuoteIdent(l.RelatedKey),
		database.QuoteIdent(l.SourceKey),
		l.Source.QualifiedName(),
		database.QuoteIdent(l.SourceID),
		b.bind(objectID))

	if expr := RewriteWhere(l.Expression); expr != "" {
		b.write(" AND (" + expr + ")")
	}
	return Statement{SQL: b.sb.String(), Args: b.args}
}
