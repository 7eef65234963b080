package schema

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koustreak/featureserv/internal/database/dbtest"
	"github.com/koustreak/featureserv/internal/errs"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var enumColumns = []string{"table_name", "geometry_column", "geometry_format"}

func expectEnumeration(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`FROM pg_catalog.pg_class c`).
		WithArgs("public", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(enumColumns).
			AddRow("parcels", nil, nil).
			AddRow("roads", dbtest.Str("geom"), dbtest.Str("geometry")).
			AddRow("cities", dbtest.Str("geom"), dbtest.Str("geometry(Point,4326)")))
	mock.ExpectQuery(`SELECT ST_GeometryType\("geom"\) FROM "public"."roads"`).
		WillReturnRows(pgxmock.NewRows([]string{"st_geometrytype"}).
			AddRow(dbtest.Str("ST_MultiLineString")))
}

func TestEnumerateTables_SpatialFirstThenByName(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	expectEnumeration(mock)

	layers, err := NewIntrospector(db, time.Second).EnumerateTables(context.Background(), "public")
	require.NoError(t, err)
	require.Len(t, layers, 3)

	assert.Equal(t, "cities", layers[0].Name)
	assert.Equal(t, 0, layers[0].ID)
	assert.Equal(t, GeometryPoint, layers[0].GeometryType)

	assert.Equal(t, "roads", layers[1].Name)
	assert.Equal(t, 1, layers[1].ID)
	assert.Equal(t, GeometryMultiLineString, layers[1].GeometryType)

	assert.Equal(t, "parcels", layers[2].Name)
	assert.Equal(t, 2, layers[2].ID)
	assert.False(t, layers[2].IsSpatial())
	assert.Equal(t, GeometryNone, layers[2].GeometryType)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnumerateTables_CachedPerRequest(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	expectEnumeration(mock)

	in := NewIntrospector(db, time.Second)
	ctx := WithEnumerationCache(context.Background())

	first, err := in.EnumerateTables(ctx, "public")
	require.NoError(t, err)
	second, err := in.EnumerateTables(ctx, "public")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnumerateTables_EmptySchema(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`FROM pg_catalog.pg_class c`).
		WithArgs("empty", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(enumColumns))

	layers, err := NewIntrospector(db, time.Second).EnumerateTables(context.Background(), "empty")
	require.NoError(t, err)
	assert.NotNil(t, layers)
	assert.Empty(t, layers)
}

func TestEnumerateTables_SchemaTimeout(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`FROM pg_catalog.pg_class c`).
		WithArgs("slow", pgxmock.AnyArg()).
		WillDelayFor(500 * time.Millisecond).
		WillReturnRows(pgxmock.NewRows(enumColumns))

	_, err := NewIntrospector(db, 20*time.Millisecond).EnumerateTables(context.Background(), "slow")
	require.Error(t, err)
	assert.Equal(t, errs.ErrKindSchemaTimeout, errs.KindOf(err))
	assert.Contains(t, err.Error(), "slow")
}

func TestResolveLayerByID(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	expectEnumeration(mock)

	in := NewIntrospector(db, time.Second)
	ctx := WithEnumerationCache(context.Background())

	layer, err := in.ResolveLayerByID(ctx, "public", 1)
	require.NoError(t, err)
	assert.Equal(t, "roads", layer.Table.Table)
	assert.Equal(t, "geom", layer.Table.GeometryColumn)

	_, err = in.ResolveLayerByID(ctx, "public", 7)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestDescribe(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("public", "cities").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`ty.typname = 'geometry'`).
		WithArgs("public", "cities").
		WillReturnRows(pgxmock.NewRows([]string{"attname", "format_type"}).
			AddRow("the_geom", "geometry(Polygon,4326)"))

	td, err := NewIntrospector(db, time.Second).Describe(context.Background(), "public", "cities")
	require.NoError(t, err)
	assert.True(t, td.IsSpatial())
	assert.Equal(t, "the_geom", td.GeometryColumn)
	assert.Equal(t, GeometryPolygon, td.GeometryType)
	assert.Equal(t, `"public"."cities"`, td.QualifiedName())
}

func TestDescribe_Missing(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("public", "nope").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := NewIntrospector(db, time.Second).Describe(context.Background(), "public", "nope")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestDetectGeometryColumn_None(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`ty.typname = 'geometry'`).
		WithArgs("public", "lookup").
		WillReturnRows(pgxmock.NewRows([]string{"attname", "format_type"}))

	col, err := NewIntrospector(db, time.Second).DetectGeometryColumn(context.Background(), "public", "lookup")
	require.NoError(t, err)
	assert.Empty(t, col)
}

func TestGetFields(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`AS max_length`).
		WithArgs("public", "cities").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type", "udt_name", "is_nullable", "max_length"}).
			AddRow("id", "integer", "int4", false, nil).
			AddRow("name", "character varying(80)", "varchar", true, dbtest.Int32(80)).
			AddRow("geom", "geometry(Point,4326)", "geometry", true, nil))

	fields, err := NewIntrospector(db, time.Second).GetFields(context.Background(), "public", "cities")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, FieldOID, fields[0].Type)
	assert.Equal(t, FieldString, fields[1].Type)
	assert.Equal(t, 80, *fields[1].Length)
}

func TestExtent(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	td := TableDescriptor{Schema: "public", Table: "cities", GeometryColumn: "geom"}
	in := NewIntrospector(db, time.Second)

	mock.ExpectQuery(`ST_Extent\("geom"\)`).
		WillReturnRows(pgxmock.NewRows([]string{"xmin", "ymin", "xmax", "ymax"}).
			AddRow(dbtest.Float(-10), dbtest.Float(-5), dbtest.Float(10), dbtest.Float(5)))
	assert.Equal(t, Extent{XMin: -10, YMin: -5, XMax: 10, YMax: 5}, in.Extent(context.Background(), td))

	mock.ExpectQuery(`ST_Extent\("geom"\)`).
		WillReturnRows(pgxmock.NewRows([]string{"xmin", "ymin", "xmax", "ymax"}).
			AddRow(nil, nil, nil, nil))
	assert.Equal(t, WorldExtent, in.Extent(context.Background(), td), "empty table")

	mock.ExpectQuery(`ST_Extent\("geom"\)`).WillReturnError(errors.New("boom"))
	assert.Equal(t, WorldExtent, in.Extent(context.Background(), td), "failed lookup")

	assert.Equal(t, WorldExtent, in.Extent(context.Background(), TableDescriptor{Schema: "public", Table: "lookup"}))
}

func TestGetRelationships(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`con.contype = 'f'`).
		WithArgs("public", "cities").
		WillReturnRows(pgxmock.NewRows([]string{"constraint_name", "from_table", "from_column", "to_table", "to_column"}).
			AddRow("cities_country_fk", "cities", "country_id", "countries", "id").
			AddRow("roads_city_fk", "roads", "city_id", "cities", "id"))
	mock.ExpectQuery(`FROM pg_catalog.pg_index`).
		WithArgs("public").
		WillReturnRows(pgxmock.NewRows([]string{"relname", "attname"}).
			AddRow("cities", "id").
			AddRow("countries", "id").
			AddRow("roads", "id"))
	mock.ExpectQuery(`FROM pg_catalog.pg_class c`).
		WithArgs("public", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(enumColumns).
			AddRow("cities", dbtest.Str("geom"), dbtest.Str("geometry(Point,4326)")).
			AddRow("countries", nil, nil).
			AddRow("roads", dbtest.Str("geom"), dbtest.Str("geometry(LineString,4326)")))

	rels := NewIntrospector(db, time.Second).GetRelationships(context.Background(), "public", "cities")
	require.False(t, rels.Degraded())
	require.Len(t, rels.Items, 2)

	toCountry := rels.Items[0]
	assert.Equal(t, 0, toCountry.ID)
	assert.Equal(t, "cities_country_fk", toCountry.Name)
	assert.Equal(t, RoleOrigin, toCountry.Role)
	assert.Equal(t, ManyToOne, toCountry.Cardinality)
	assert.Equal(t, "country_id", toCountry.KeyField)
	assert.Equal(t, "countries", toCountry.RelatedTableName)
	assert.Equal(t, 2, toCountry.RelatedTableID)
	assert.Equal(t, "id", toCountry.RelatedKeyField())

	fromRoads := rels.Items[1]
	assert.Equal(t, 1, fromRoads.ID)
	assert.Equal(t, RoleDestination, fromRoads.Role)
	assert.Equal(t, OneToMany, fromRoads.Cardinality)
	assert.Equal(t, "id", fromRoads.KeyField)
	assert.Equal(t, "roads", fromRoads.RelatedTableName)
	assert.Equal(t, 1, fromRoads.RelatedTableID)
	assert.Equal(t, "city_id", fromRoads.RelatedKeyField())
	assert.False(t, fromRoads.Composite)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRelationships_NoForeignKeys(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`con.contype = 'f'`).
		WithArgs("public", "lonely").
		WillReturnRows(pgxmock.NewRows([]string{"constraint_name", "from_table", "from_column", "to_table", "to_column"}))

	rels := NewIntrospector(db, time.Second).GetRelationships(context.Background(), "public", "lonely")
	assert.False(t, rels.Degraded())
	assert.NotNil(t, rels.Items)
	assert.Empty(t, rels.Items)
}

func TestGetRelationships_DegradesOnFailure(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`con.contype = 'f'`).
		WillReturnError(errors.New("permission denied for information_schema"))

	rels := NewIntrospector(db, time.Second).GetRelationships(context.Background(), "public", "cities")
	assert.True(t, rels.Degraded())
	assert.NotNil(t, rels.Items)
	assert.Empty(t, rels.Items)
	assert.Contains(t, rels.Err.Error(), "permission denied")
}

func TestDeriveCardinality(t *testing.T) {
	tests := []struct {
		name                 string
		holderUnique, refUnq bool
		fromHolder           bool
		want                 Cardinality
	}{
		{"both unique", true, true, true, OneToOne},
		{"both unique, referenced side", true, true, false, OneToOne},
		{"plain fk, holder side", false, true, true, ManyToOne},
		{"plain fk, referenced side", false, true, false, OneToMany},
		{"unique holder, loose target", true, false, true, OneToMany},
		{"unique holder, loose target, referenced side", true, false, false, ManyToOne},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveCardinality(tt.holderUnique, tt.refUnq, tt.fromHolder))
		})
	}
}

func TestRelationshipsFind(t *testing.T) {
	rels := Relationships{Items: []RelationshipDescriptor{
		{ID: 0, Name: "a_fk"},
		{ID: 1, Name: "b_fk"},
	}}

	r, ok := rels.Find("1")
	require.True(t, ok)
	assert.Equal(t, "b_fk", r.Name)

	r, ok = rels.Find(`"0"`)
	require.True(t, ok)
	assert.Equal(t, "a_fk", r.Name)

	r, ok = rels.Find("b_fk")
	require.True(t, ok)
	assert.Equal(t, 1, r.ID)

	_, ok = rels.Find("zzz")
	assert.False(t, ok)
}

func TestForeignKeys_CompositeKeepsFirstPair(t *testing.T) {
	db, mock := dbtest.NewMock(t)
	mock.ExpectQuery(`con.contype = 'f'`).
		WithArgs("public", "visits").
		WillReturnRows(pgxmock.NewRows([]string{"constraint_name", "from_table", "from_column", "to_table", "to_column"}).
			AddRow("visits_site_fk", "visits", "site_region", "sites", "region").
			AddRow("visits_site_fk", "visits", "site_code", "sites", "code").
			AddRow("visits_visitor_fk", "visits", "visitor_id", "visitors", "id"))

	fks, err := NewIntrospector(db, time.Second).ForeignKeys(context.Background(), "public", "visits")
	require.NoError(t, err)
	require.Len(t, fks, 2)

	assert.Equal(t, ForeignKey{
		Name: "visits_site_fk", FromTable: "visits", FromColumn: "site_region",
		ToTable: "sites", ToColumn: "region", Composite: true,
	}, fks[0])
	assert.Equal(t, "visitor_id", fks[1].FromColumn)
	assert.Equal(t, "id", fks[1].ToColumn)
	assert.False(t, fks[1].Composite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogLookups_SchemaTimeout(t *testing.T) {
	slow := func(mock pgxmock.PgxPoolIface, pattern string) {
		mock.ExpectQuery(pattern).
			WillDelayFor(500 * time.Millisecond).
			WillReturnError(errors.New("too late"))
	}

	t.Run("describe", func(t *testing.T) {
		db, mock := dbtest.NewMock(t)
		slow(mock, `SELECT EXISTS`)
		_, err := NewIntrospector(db, 20*time.Millisecond).Describe(context.Background(), "public", "cities")
		require.Error(t, err)
		assert.Equal(t, errs.ErrKindSchemaTimeout, errs.KindOf(err))
		assert.Contains(t, err.Error(), "public.cities")
	})

	t.Run("fields", func(t *testing.T) {
		db, mock := dbtest.NewMock(t)
		slow(mock, `AS max_length`)
		_, err := NewIntrospector(db, 20*time.Millisecond).GetFields(context.Background(), "public", "cities")
		require.Error(t, err)
		assert.Equal(t, errs.ErrKindSchemaTimeout, errs.KindOf(err))
	})

	t.Run("relationships degrade", func(t *testing.T) {
		db, mock := dbtest.NewMock(t)
		slow(mock, `con.contype = 'f'`)
		rels := NewIntrospector(db, 20*time.Millisecond).GetRelationships(context.Background(), "public", "cities")
		assert.True(t, rels.Degraded())
		assert.Equal(t, errs.ErrKindSchemaTimeout, errs.KindOf(rels.Err))
	})

	t.Run("extent falls back", func(t *testing.T) {
		db, mock := dbtest.NewMock(t)
		slow(mock, `ST_Extent\("geom"\)`)
		td := TableDescriptor{Schema: "public", Table: "cities", GeometryColumn: "geom"}
		assert.Equal(t, WorldExtent, NewIntrospector(db, 20*time.Millisecond).Extent(context.Background(), td))
	})
}
