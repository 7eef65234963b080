// Package service runs one protocol request end to end: it resolves the
// target and layer, dispatches to the synthesizer or the query pipeline and
// returns the document to encode.
package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/koustreak/featureserv/internal/config"
	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/errs"
	"github.com/koustreak/featureserv/internal/format"
	"github.com/koustreak/featureserv/internal/metadata"
	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/schema"
)

// identifyLimit is how many rows identify returns.
const identifyLimit = 10

// Target is the :id path segment: either a whole schema or one table.
type Target struct {
	ID     string
	Schema string
	Table  string
}

// SingleTable reports whether the target names one table.
func (t Target) SingleTable() bool { return t.Table != "" }

// ParseTarget splits "schema" or "schema.table".
func ParseTarget(id string) (Target, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Target{}, errs.New(errs.ErrKindInvalidInput, "service id is required")
	}
	schemaName, table, dotted := strings.Cut(id, ".")
	if dotted && (schemaName == "" || table == "") {
		return Target{}, errs.Newf(errs.ErrKindInvalidInput, "malformed service id %q", id)
	}
	return Target{ID: id, Schema: schemaName, Table: table}, nil
}

// Service wires introspection, translation, execution and formatting.
type Service struct {
	intro          *schema.Introspector
	exec           *query.Executor
	meta           *metadata.Synthesizer
	maxRecordCount int
}

// New builds a Service over db.
func New(db database.DB, cfg config.ServiceConfig) *Service {
	intro := schema.NewIntrospector(db, cfg.SchemaTimeout)
	exec := query.NewExecutor(db, cfg.QueryTimeout)
	return &Service{
		intro: intro,
		exec:  exec,
		meta: metadata.New(intro, exec, metadata.Config{
			MaxRecordCount: cfg.MaxRecordCount,
			EnableTemporal: cfg.EnableTemporal,
			TemporalField:  cfg.TemporalField,
		}),
		maxRecordCount: cfg.MaxRecordCount,
	}
}

// Discovery is the document served at /:id.
type Discovery struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Services    []ServiceLink `json:"services"`
}

type ServiceLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Discovery describes the target and links its two service flavours.
// baseURL is the absolute URL of the request.
func (s *Service) Discovery(ctx context.Context, t Target, baseURL string) (*Discovery, error) {
	ctx = schema.WithEnumerationCache(ctx)
	if _, err := s.layers(ctx, t); err != nil {
		return nil, err
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &Discovery{
		Name:        t.ID,
		Type:        "PostgreSQL/PostGIS Provider",
		Description: "PostgreSQL/PostGIS data source: " + t.ID,
		Services: []ServiceLink{
			{Name: string(metadata.FeatureServer), URL: baseURL + "/" + string(metadata.FeatureServer)},
			{Name: string(metadata.MapServer), URL: baseURL + "/" + string(metadata.MapServer)},
		},
	}, nil
}

// ServiceInfo builds the FeatureServer/MapServer root document.
func (s *Service) ServiceInfo(ctx context.Context, t Target, kind metadata.ServerKind) (*metadata.ServiceInfo, error) {
	ctx = schema.WithEnumerationCache(ctx)
	layers, err := s.layers(ctx, t)
	if err != nil {
		return nil, err
	}
	info := s.meta.ServiceInfo(t.ID, kind, layers)
	return &info, nil
}

// LayerInfo builds the document of one layer.
func (s *Service) LayerInfo(ctx context.Context, t Target, kind metadata.ServerKind, layerRef string) (*metadata.LayerInfo, error) {
	ctx = schema.WithEnumerationCache(ctx)
	layer, err := s.resolveLayer(ctx, t, layerRef)
	if err != nil {
		return nil, err
	}
	return s.meta.LayerInfo(ctx, kind, *layer)
}

// Query runs a feature query and returns the response document: a GeoJSON
// collection, a count, an id list or an Esri feature set, in that order of
// precedence.
func (s *Service) Query(ctx context.Context, t Target, layerRef string, req query.Request) (any, error) {
	ctx = schema.WithEnumerationCache(ctx)
	layer, err := s.resolveLayer(ctx, t, layerRef)
	if err != nil {
		return nil, err
	}
	facts, err := s.meta.Facts(ctx, *layer, false)
	if err != nil {
		return nil, err
	}
	features, exceeded, err := s.fetch(ctx, facts, req)
	if err != nil {
		return nil, err
	}

	fl := facts.FormatLayer()
	switch {
	case req.Format == query.FormatGeoJSON:
		return format.GeoJSONCollection(fl, features, exceeded, req), nil
	case req.ReturnCountOnly:
		return format.Count(features), nil
	case req.ReturnIdsOnly:
		return format.IDs(fl, features), nil
	default:
		return format.EsriFeatureSet(fl, features, exceeded, req), nil
	}
}

func (s *Service) translator(facts *metadata.Facts) *query.Translator {
	return query.NewTranslator(facts.Layer.Table, query.Options{
		MaxRecordCount: s.maxRecordCount,
		IDField:        facts.IDField,
		Columns:        facts.Columns(),
	})
}

func (s *Service) fetch(ctx context.Context, facts *metadata.Facts, req query.Request) ([]format.Feature, bool, error) {
	stmt, err := s.translator(facts).Select(ctx, req)
	if err != nil {
		return nil, false, err
	}
	res, err := s.exec.Run(ctx, stmt)
	if err != nil {
		return nil, false, err
	}
	return format.Features(ctx, facts.FormatLayer(), res.Records, req), res.Exceeded, nil
}

// RelatedRecords answers queryRelatedRecords.
func (s *Service) RelatedRecords(ctx context.Context, t Target, layerRef string, req query.Request) (*format.RelatedRecords, error) {
	ctx = schema.WithEnumerationCache(ctx)
	layer, err := s.resolveLayer(ctx, t, layerRef)
	if err != nil {
		return nil, err
	}
	return s.meta.RelatedRecords(ctx, *layer, req)
}

// Estimates is the getEstimates response.
type Estimates struct {
	Count  int64            `json:"count"`
	Extent *metadata.Extent `json:"extent"`
}

// Estimates counts the filtered rows and measures their extent, ignoring
// pagination.
func (s *Service) Estimates(ctx context.Context, t Target, layerRef string, req query.Request) (*Estimates, error) {
	ctx = schema.WithEnumerationCache(ctx)
	layer, err := s.resolveLayer(ctx, t, layerRef)
	if err != nil {
		return nil, err
	}
	facts, err := s.meta.Facts(ctx, *layer, false)
	if err != nil {
		return nil, err
	}
	stmt, err := s.translator(facts).Estimate(ctx, req)
	if err != nil {
		return nil, err
	}
	est, err := s.exec.Estimate(ctx, stmt)
	if err != nil {
		return nil, err
	}

	out := &Estimates{Count: est.Count}
	if est.Extent != nil {
		e := metadata.NewExtent(*est.Extent)
		out.Extent = &e
	}
	return out, nil
}

// IdentifyResult is one hit of an identify request.
type IdentifyResult struct {
	LayerID          int               `json:"layerId"`
	LayerName        string            `json:"layerName"`
	Value            any               `json:"value"`
	DisplayFieldName string            `json:"displayFieldName"`
	Attributes       format.Attributes `json:"attributes"`
	Geometry         any               `json:"geometry"`
}

type Identify struct {
	Results []IdentifyResult `json:"results"`
}

// Identify returns the first rows of layer 0. It does no spatial matching.
func (s *Service) Identify(ctx context.Context, t Target) (*Identify, error) {
	ctx = schema.WithEnumerationCache(ctx)
	layer, err := s.resolveLayer(ctx, t, "0")
	if err != nil {
		return nil, err
	}
	facts, err := s.meta.Facts(ctx, *layer, false)
	if err != nil {
		return nil, err
	}

	req := query.DefaultRequest()
	req.Where = "1=1"
	limit := identifyLimit
	req.ResultRecordCount = &limit

	features, _, err := s.fetch(ctx, facts, req)
	if err != nil {
		return nil, err
	}

	out := &Identify{Results: make([]IdentifyResult, 0, len(features))}
	for i, f := range features {
		attrs := f.EsriAttributes()
		res := IdentifyResult{
			LayerID:          layer.ID,
			LayerName:        layer.Name,
			Value:            i,
			DisplayFieldName: facts.DisplayField,
			Attributes:       attrs,
			Geometry:         format.ToEsri(f.Geometry),
		}
		if v, ok := attrs.Get(facts.IDField); ok && v != nil {
			res.Value = v
		}
		if res.DisplayFieldName == "" && attrs.Len() > 0 {
			res.DisplayFieldName = attrs.Keys()[0]
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}

// layers lists the layers of t. A schema without tables is NotFound.
func (s *Service) layers(ctx context.Context, t Target) ([]schema.LayerDescriptor, error) {
	if t.SingleTable() {
		layer, err := s.tableLayer(ctx, t)
		if err != nil {
			return nil, err
		}
		return []schema.LayerDescriptor{*layer}, nil
	}

	layers, err := s.intro.EnumerateTables(ctx, t.Schema)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "schema %q has no tables", t.Schema)
	}
	return layers, nil
}

// resolveLayer maps the :layer segment to a layer of t. A single-table
// target has exactly one layer, id 0.
func (s *Service) resolveLayer(ctx context.Context, t Target, ref string) (*schema.LayerDescriptor, error) {
	id, err := strconv.Atoi(strings.TrimSpace(ref))
	if err != nil || id < 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "layer %q not found", ref)
	}
	if t.SingleTable() {
		if id != 0 {
			return nil, errs.Newf(errs.ErrKindNotFound, "layer %d not found in %s", id, t.ID)
		}
		return s.tableLayer(ctx, t)
	}
	return s.intro.ResolveLayerByID(ctx, t.Schema, id)
}

func (s *Service) tableLayer(ctx context.Context, t Target) (*schema.LayerDescriptor, error) {
	td, err := s.intro.Describe(ctx, t.Schema, t.Table)
	if err != nil {
		return nil, err
	}
	return &schema.LayerDescriptor{
		ID:           0,
		Name:         td.Table,
		GeometryType: td.GeometryType,
		Table:        *td,
	}, nil
}
