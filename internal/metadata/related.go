package metadata

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/koustreak/featureserv/internal/errs"
	"github.com/koustreak/featureserv/internal/format"
	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/schema"
)

// relatedLookups bounds how many per-object lookups run at once.
const relatedLookups = 4

// RelatedRecords answers queryRelatedRecords for layer: for every source
// object id it fetches the rows of the related table joined through the
// chosen relationship.
func (s *Synthesizer) RelatedRecords(ctx context.Context, layer schema.LayerDescriptor, req query.Request) (*format.RelatedRecords, error) {
	if len(req.ObjectIDs) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "objectIds is required for queryRelatedRecords")
	}

	source, err := s.Facts(ctx, layer, false)
	if err != nil {
		return nil, err
	}
	if source.IDField == "" {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "%s has no object id field", layer.Table.FullName())
	}

	rel, err := pickRelationship(source, req.RelationshipID)
	if err != nil {
		return nil, err
	}

	relatedTD, err := s.intro.Describe(ctx, layer.Table.Schema, rel.RelatedTableName)
	if err != nil {
		return nil, err
	}
	relatedFields, err := s.intro.GetFields(ctx, relatedTD.Schema, relatedTD.Table)
	if err != nil {
		return nil, err
	}
	related := format.Layer{
		Name:    relatedTD.Table,
		Table:   *relatedTD,
		IDField: IDField(relatedFields),
		Fields:  relatedFields,
	}

	lookup := query.RelatedLookup{
		Source:       layer.Table,
		SourceID:     source.IDField,
		SourceKey:    rel.KeyField,
		Related:      *relatedTD,
		RelatedKey:   rel.RelatedKeyField(),
		Expression:   req.DefinitionExpression,
		WithGeometry: req.ReturnGeometry,
	}

	groups := make([]format.RelatedRecordGroup, len(req.ObjectIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(relatedLookups)
	for i, oid := range req.ObjectIDs {
		g.Go(func() error {
			res, err := s.exec.Run(gctx, query.Related(lookup, oid))
			if err != nil {
				return err
			}
			features := format.Features(gctx, related, res.Records, req)
			groups[i] = format.RelatedGroup(objectIDValue(oid), related, features, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &format.RelatedRecords{
		Fields:              format.EsriFields(relatedFields),
		GeometryType:        relatedTD.GeometryType.Esri(),
		SpatialReference:    format.WGS84,
		RelatedRecordGroups: groups,
	}
	return out, nil
}

// pickRelationship resolves relationshipId, which may be an id, a quoted id
// or a relationship name. An empty reference picks the first relationship.
func pickRelationship(facts *Facts, ref string) (schema.RelationshipDescriptor, error) {
	rels := facts.Relationships
	if rels.Degraded() {
		return schema.RelationshipDescriptor{}, errs.Wrap(errs.ErrKindQueryFailed,
			"relationship introspection failed", rels.Err)
	}
	if ref == "" {
		if len(rels.Items) == 0 {
			return schema.RelationshipDescriptor{}, errs.Newf(errs.ErrKindNotFound,
				"%s has no relationships", facts.Layer.Table.FullName())
		}
		return rels.Items[0], nil
	}
	rel, ok := rels.Find(ref)
	if !ok {
		return schema.RelationshipDescriptor{}, errs.Newf(errs.ErrKindInvalidInput,
			"relationship %s not found on %s", ref, facts.Layer.Table.FullName())
	}
	return rel, nil
}

// objectIDValue renders a requested id back as a number when it is one.
func objectIDValue(oid string) any {
	if n, err := strconv.ParseInt(oid, 10, 64); err == nil {
		return n
	}
	return oid
}
