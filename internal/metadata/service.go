// Package metadata synthesizes the Esri discovery documents (service info,
// layer info and related-record payloads) from introspected schema facts.
package metadata

import (
	"fmt"

	"github.com/koustreak/featureserv/internal/format"
	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/schema"
)

const currentVersion = 10.91

// ServerKind is the Esri service flavour a request came in through.
type ServerKind string

const (
	FeatureServer ServerKind = "FeatureServer"
	MapServer     ServerKind = "MapServer"
)

// Capabilities advertised per flavour. Both are read-only.
func (k ServerKind) Capabilities() string {
	if k == MapServer {
		return "Map,Query,Data,Relationship,Identify"
	}
	return "Query,Data,Relationship"
}

// Config holds the protocol knobs that come from process configuration.
type Config struct {
	MaxRecordCount int
	EnableTemporal bool
	TemporalField  string
}

// Synthesizer builds metadata documents from live introspection.
type Synthesizer struct {
	intro *schema.Introspector
	exec  *query.Executor
	cfg   Config
}

// New creates a Synthesizer.
func New(intro *schema.Introspector, exec *query.Executor, cfg Config) *Synthesizer {
	return &Synthesizer{intro: intro, exec: exec, cfg: cfg}
}

// Extent is an Esri envelope.
type Extent struct {
	XMin             float64                 `json:"xmin"`
	YMin             float64                 `json:"ymin"`
	XMax             float64                 `json:"xmax"`
	YMax             float64                 `json:"ymax"`
	SpatialReference format.SpatialReference `json:"spatialReference"`
}

// NewExtent wraps a bounding box in WGS84.
func NewExtent(e schema.Extent) Extent {
	return Extent{XMin: e.XMin, YMin: e.YMin, XMax: e.XMax, YMax: e.YMax, SpatialReference: format.WGS84}
}

type ServiceLayer struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	ParentLayerID     int    `json:"parentLayerId"`
	DefaultVisibility bool   `json:"defaultVisibility"`
	SubLayerIDs       []int  `json:"subLayerIds"`
	MinScale          int    `json:"minScale"`
	MaxScale          int    `json:"maxScale"`
	Type              string `json:"type"`
	GeometryType      string `json:"geometryType"`
}

type ServiceTable struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type DocumentInfo struct {
	Title    string `json:"Title"`
	Author   string `json:"Author"`
	Comments string `json:"Comments"`
	Subject  string `json:"Subject"`
	Category string `json:"Category"`
	Keywords string `json:"Keywords"`
}

// ServiceInfo is the FeatureServer/MapServer root document.
type ServiceInfo struct {
	CurrentVersion        float64                 `json:"currentVersion"`
	ServiceDescription    string                  `json:"serviceDescription"`
	MapName               string                  `json:"mapName"`
	Description           string                  `json:"description"`
	CopyrightText         string                  `json:"copyrightText"`
	Layers                []ServiceLayer          `json:"layers"`
	Tables                []ServiceTable          `json:"tables"`
	SpatialReference      format.SpatialReference `json:"spatialReference"`
	SingleFusedMapCache   bool                    `json:"singleFusedMapCache"`
	InitialExtent         Extent                  `json:"initialExtent"`
	FullExtent            Extent                  `json:"fullExtent"`
	Units                 string                  `json:"units"`
	DocumentInfo          DocumentInfo            `json:"documentInfo"`
	Capabilities          string                  `json:"capabilities"`
	SupportedQueryFormats string                  `json:"supportedQueryFormats"`
	HasVersionedData      bool                    `json:"hasVersionedData"`
	MaxRecordCount        int                     `json:"maxRecordCount"`
	SupportsDynamicLayers bool                    `json:"supportsDynamicLayers"`
	AllowGeometryUpdates  bool                    `json:"allowGeometryUpdates"`
	SyncEnabled           bool                    `json:"syncEnabled"`
	HasStaticData         bool                    `json:"hasStaticData"`
}

// ServiceInfo aggregates the layers of a service. The extent is always the
// whole world; it is not computed from the data.
func (s *Synthesizer) ServiceInfo(name string, kind ServerKind, layers []schema.LayerDescriptor) ServiceInfo {
	world := NewExtent(schema.WorldExtent)
	info := ServiceInfo{
		CurrentVersion:     currentVersion,
		ServiceDescription: fmt.Sprintf("PostgreSQL/PostGIS %s for %s", kind, name),
		MapName:            name,
		Description:        fmt.Sprintf("PostgreSQL/PostGIS layer: %s", name),
		Layers:             make([]ServiceLayer, 0, len(layers)),
		Tables:             make([]ServiceTable, 0),
		SpatialReference:   format.WGS84,
		InitialExtent:      world,
		FullExtent:         world,
		Units:              "esriDecimalDegrees",
		DocumentInfo: DocumentInfo{
			Title:    fmt.Sprintf("%s for %s", kind, name),
			Comments: "Generated from PostgreSQL catalog metadata",
			Subject:  fmt.Sprintf("PostgreSQL/PostGIS %s", kind),
			Keywords: "postgis,postgresql",
		},
		Capabilities:          kind.Capabilities(),
		SupportedQueryFormats: "JSON, geoJSON",
		MaxRecordCount:        s.cfg.MaxRecordCount,
	}

	for _, l := range layers {
		if l.IsSpatial() {
			info.Layers = append(info.Layers, ServiceLayer{
				ID:                l.ID,
				Name:              l.Name,
				ParentLayerID:     -1,
				DefaultVisibility: true,
				Type:              "Feature Layer",
				GeometryType:      l.GeometryType.Esri(),
			})
		} else {
			info.Tables = append(info.Tables, ServiceTable{ID: l.ID, Name: l.Name, Type: "Table"})
		}
	}
	return info
}
