package metadata

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/koustreak/featureserv/internal/format"
	"github.com/koustreak/featureserv/internal/schema"
)

// Facts is everything introspection knows about one layer.
type Facts struct {
	Layer         schema.LayerDescriptor
	Fields        []schema.FieldDescriptor
	Relationships schema.Relationships
	Extent        schema.Extent
	IDField       string
	DisplayField  string
}

// Columns lists the table's column names, geometry included.
func (f *Facts) Columns() []string {
	cols := make([]string, 0, len(f.Fields)+1)
	for _, fd := range f.Fields {
		cols = append(cols, fd.Name)
	}
	if f.Layer.Table.IsSpatial() {
		cols = append(cols, f.Layer.Table.GeometryColumn)
	}
	return cols
}

// FormatLayer is the view of the facts the result encoders need.
func (f *Facts) FormatLayer() format.Layer {
	return format.Layer{
		Name:          f.Layer.Name,
		Table:         f.Layer.Table,
		IDField:       f.IDField,
		Fields:        f.Fields,
		Relationships: f.Relationships.Items,
	}
}

// Facts introspects fields and relationships, plus the data extent when
// withExtent is set. The lookups run concurrently; only a failed field
// lookup is an error, relationships and extent degrade on their own.
func (s *Synthesizer) Facts(ctx context.Context, layer schema.LayerDescriptor, withExtent bool) (*Facts, error) {
	facts := &Facts{Layer: layer, Extent: schema.WorldExtent}
	td := layer.Table

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fields, err := s.intro.GetFields(gctx, td.Schema, td.Table)
		if err != nil {
			return err
		}
		facts.Fields = fields
		return nil
	})
	g.Go(func() error {
		facts.Relationships = s.intro.GetRelationships(gctx, td.Schema, td.Table)
		return nil
	})
	if withExtent && td.IsSpatial() {
		g.Go(func() error {
			facts.Extent = s.intro.Extent(gctx, td)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	facts.IDField = IDField(facts.Fields)
	facts.DisplayField = DisplayField(facts.Fields)
	return facts, nil
}

type GeometryField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

type OwnershipAccessControl struct {
	AllowOthersToQuery  bool `json:"allowOthersToQuery"`
	AllowOthersToUpdate bool `json:"allowOthersToUpdate"`
	AllowOthersToDelete bool `json:"allowOthersToDelete"`
}

type AdvancedQueryCapabilities struct {
	UseStandardizedQueries       bool `json:"useStandardizedQueries"`
	SupportsStatistics           bool `json:"supportsStatistics"`
	SupportsHavingClause         bool `json:"supportsHavingClause"`
	SupportsCountDistinct        bool `json:"supportsCountDistinct"`
	SupportsOrderBy              bool `json:"supportsOrderBy"`
	SupportsDistinct             bool `json:"supportsDistinct"`
	SupportsPagination           bool `json:"supportsPagination"`
	SupportsTrueCurve            bool `json:"supportsTrueCurve"`
	SupportsReturningQueryExtent bool `json:"supportsReturningQueryExtent"`
	SupportsQueryWithDistance    bool `json:"supportsQueryWithDistance"`
	SupportsSQLExpression        bool `json:"supportsSqlExpression"`
}

type TimeReference struct {
	TimeZone               string `json:"timeZone"`
	RespectsDaylightSaving bool   `json:"respectsDaylightSaving"`
}

type TimeExportOptions struct {
	UseTime            bool    `json:"useTime"`
	TimeDataCumulative bool    `json:"timeDataCumulative"`
	TimeOffset         *int    `json:"timeOffset"`
	TimeOffsetUnits    *string `json:"timeOffsetUnits"`
}

type TimeInfo struct {
	StartTimeField           string            `json:"startTimeField"`
	EndTimeField             *string           `json:"endTimeField"`
	TrackIDField             *string           `json:"trackIdField"`
	TimeExtent               []int64           `json:"timeExtent"`
	TimeReference            TimeReference     `json:"timeReference"`
	HasLiveData              bool              `json:"hasLiveData"`
	DefaultTimeInterval      int               `json:"defaultTimeInterval"`
	DefaultTimeIntervalUnits string            `json:"defaultTimeIntervalUnits"`
	ExportOptions            TimeExportOptions `json:"exportOptions"`
}

// LayerInfo is the per-layer document.
type LayerInfo struct {
	CurrentVersion                         float64                         `json:"currentVersion"`
	ID                                     int                             `json:"id"`
	Name                                   string                          `json:"name"`
	Type                                   string                          `json:"type"`
	Description                            string                          `json:"description"`
	GeometryType                           *string                         `json:"geometryType"`
	SourceSpatialReference                 format.SpatialReference         `json:"sourceSpatialReference"`
	CopyrightText                          string                          `json:"copyrightText"`
	DefaultVisibility                      bool                            `json:"defaultVisibility"`
	MinScale                               int                             `json:"minScale"`
	MaxScale                               int                             `json:"maxScale"`
	Extent                                 Extent                          `json:"extent"`
	HasAttachments                         bool                            `json:"hasAttachments"`
	DisplayField                           string                          `json:"displayField"`
	ObjectIDField                          *string                         `json:"objectIdField"`
	GlobalIDField                          string                          `json:"globalIdField"`
	TypeIDField                            *string                         `json:"typeIdField"`
	Fields                                 []format.EsriField              `json:"fields"`
	GeometryField                          *GeometryField                  `json:"geometryField"`
	Indexes                                []any                           `json:"indexes"`
	Types                                  []any                           `json:"types"`
	Relationships                          []schema.RelationshipDescriptor `json:"relationships"`
	Capabilities                           string                          `json:"capabilities"`
	MaxRecordCount                         int                             `json:"maxRecordCount"`
	SupportedQueryFormats                  string                          `json:"supportedQueryFormats"`
	SupportsAdvancedQueries                bool                            `json:"supportsAdvancedQueries"`
	SupportsStatistics                     bool                            `json:"supportsStatistics"`
	SupportsValidateSQL                    bool                            `json:"supportsValidateSql"`
	SupportsCoordinatesQuantization        bool                            `json:"supportsCoordinatesQuantization"`
	SupportsReturningQueryGeometry         bool                            `json:"supportsReturningQueryGeometry"`
	UseStandardizedQueries                 bool                            `json:"useStandardizedQueries"`
	AdvancedQueryCapabilities              AdvancedQueryCapabilities       `json:"advancedQueryCapabilities"`
	OwnershipBasedAccessControlForFeatures OwnershipAccessControl          `json:"ownershipBasedAccessControlForFeatures"`
	CanModifyLayer                         bool                            `json:"canModifyLayer"`
	AllowGeometryUpdates                   bool                            `json:"allowGeometryUpdates"`
	IsDataVersioned                        bool                            `json:"isDataVersioned"`
	SupportsRollbackOnFailureParameter     bool                            `json:"supportsRollbackOnFailureParameter"`
	SyncCanReturnChanges                   bool                            `json:"syncCanReturnChanges"`
	SupportsTime                           bool                            `json:"supportsTime"`
	TimeInfo                               *TimeInfo                       `json:"timeInfo"`
}

// LayerInfo builds the document for one layer.
func (s *Synthesizer) LayerInfo(ctx context.Context, kind ServerKind, layer schema.LayerDescriptor) (*LayerInfo, error) {
	facts, err := s.Facts(ctx, layer, true)
	if err != nil {
		return nil, err
	}
	return s.layerInfo(kind, facts), nil
}

func (s *Synthesizer) layerInfo(kind ServerKind, facts *Facts) *LayerInfo {
	layer := facts.Layer
	info := &LayerInfo{
		CurrentVersion:         currentVersion,
		ID:                     layer.ID,
		Name:                   layer.Name,
		Type:                   "Table",
		SourceSpatialReference: format.WGS84,
		DefaultVisibility:      true,
		Extent:                 NewExtent(facts.Extent),
		DisplayField:           facts.DisplayField,
		Fields:                 format.EsriFields(facts.Fields),
		Indexes:                []any{},
		Types:                  []any{},
		Relationships:          facts.Relationships.Items,
		Capabilities:           kind.Capabilities(),
		MaxRecordCount:         s.cfg.MaxRecordCount,
		SupportedQueryFormats:  "JSON, geoJSON",
	}
	info.SupportsAdvancedQueries = true
	info.SupportsReturningQueryGeometry = true
	info.UseStandardizedQueries = true
	info.AdvancedQueryCapabilities = AdvancedQueryCapabilities{
		UseStandardizedQueries: true,
		SupportsOrderBy:        true,
		SupportsPagination:     true,
	}
	info.OwnershipBasedAccessControlForFeatures = OwnershipAccessControl{AllowOthersToQuery: true}
	if info.Relationships == nil {
		info.Relationships = []schema.RelationshipDescriptor{}
	}

	if layer.IsSpatial() {
		info.Type = "Feature Layer"
		info.Description = "Spatial layer " + layer.Table.FullName()
		gt := layer.GeometryType.Esri()
		info.GeometryType = &gt
		info.GeometryField = &GeometryField{Name: "Shape", Type: "esriFieldTypeGeometry", Alias: "Shape"}
	} else {
		info.Description = "Non-spatial table " + layer.Table.FullName()
	}
	if facts.IDField != "" {
		id := facts.IDField
		info.ObjectIDField = &id
	}
	for _, f := range facts.Fields {
		if f.Type == schema.FieldGlobalID {
			info.GlobalIDField = f.Name
			break
		}
	}

	if ti := s.timeInfo(facts); ti != nil {
		info.TimeInfo = ti
		info.SupportsTime = true
	}
	return info
}

// timeInfo returns the temporal block when temporal support is on and the
// configured field (the display field by default) is a date field.
func (s *Synthesizer) timeInfo(facts *Facts) *TimeInfo {
	if !s.cfg.EnableTemporal {
		return nil
	}
	name := s.cfg.TemporalField
	if name == "" {
		name = facts.DisplayField
	}
	if name == "" {
		return nil
	}
	for _, f := range facts.Fields {
		if f.Name == name && f.Type == schema.FieldDate {
			return &TimeInfo{
				StartTimeField:           f.Name,
				TimeReference:            TimeReference{TimeZone: "UTC"},
				DefaultTimeInterval:      1,
				DefaultTimeIntervalUnits: "esriTimeUnitsHours",
				ExportOptions:            TimeExportOptions{UseTime: true},
			}
		}
	}
	return nil
}
