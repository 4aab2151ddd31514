package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/geo-catalog/internal/geo"
	"github.com/sells-group/geo-catalog/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func pointEWKB(t *testing.T, lon, lat float64) []byte {
	t.Helper()
	b, err := ewkb.Marshal(model.Point{Longitude: lon, Latitude: lat}.Geom(), ewkb.NDR)
	require.NoError(t, err)
	return b
}

func recordRowsMock(t *testing.T) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"dataset_id", "system_name", "st_asewkb", "metadata"}).
		AddRow("nmdc:bsm-1", "NMDC", pointEWKB(t, -122.26, 37.87), []byte(`{"name":"soil","depth":"5"}`)).
		AddRow("nmdc:bsm-2", "NMDC", pointEWKB(t, -106.9, 38.9), []byte(`{}`))
}

func TestPostgresStore_Clear(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`DELETE FROM geocat.records`).WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRecords_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"geocat", "records"}, recordColumns).WillReturnResult(2)

	n, err := s.InsertRecords(context.Background(), []model.Record{
		{DatasetID: "a", SystemName: model.SystemEMSL, Coordinates: model.Point{Longitude: 1, Latitude: 2}},
		{DatasetID: "b", SystemName: model.SystemEMSL, Coordinates: model.Point{Longitude: 3, Latitude: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_geocat_records"}, recordColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO geocat.records`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertRecords(context.Background(), []model.Record{
		{DatasetID: "a", SystemName: model.SystemNMDC, Coordinates: model.Point{Longitude: 1, Latitude: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRows_Encoding(t *testing.T) {
	rows, err := recordRows([]model.Record{{
		DatasetID:   "x",
		SystemName:  model.SystemESSDive,
		Coordinates: model.Point{Longitude: -106.5, Latitude: 38.9},
		Metadata:    model.Metadata{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}},
	}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0][0])
	assert.Equal(t, "ESSDIVE", rows[0][1])
	assert.Equal(t, `{"z":"1","a":"2"}`, string(rows[0][3].([]byte)))

	g, err := ewkb.Unmarshal(rows[0][2].([]byte))
	require.NoError(t, err)
	p, err := model.PointFromGeom(g)
	require.NoError(t, err)
	assert.Equal(t, model.Point{Longitude: -106.5, Latitude: 38.9}, p)
}

func TestRecordRows_NilMetadataIsEmptyObject(t *testing.T) {
	rows, err := recordRows([]model.Record{{DatasetID: "x", SystemName: model.SystemEMSL}})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(rows[0][3].([]byte)))
}

func TestPostgresStore_EnsureSpatialIndex(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_records_geom`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_records_geog`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSpatialIndex(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT system_name, count\(\*\) FROM geocat.records GROUP BY system_name`).
		WillReturnRows(pgxmock.NewRows([]string{"system_name", "count"}).
			AddRow("ESSDIVE", int64(3)).
			AddRow("NMDC", int64(5)))
	w, e, so, n := -120.0, 10.0, -5.0, 60.0
	mock.ExpectQuery(`SELECT min\(ST_X\(geom\)\)`).
		WillReturnRows(pgxmock.NewRows([]string{"w", "e", "s", "n"}).AddRow(&w, &e, &so, &n))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), st.Total)
	assert.Equal(t, int64(5), st.BySystem[model.SystemNMDC])
	require.NotNil(t, st.Bounds)
	assert.Equal(t, geo.BBox{West: -120, South: -5, East: 10, North: 60}, *st.Bounds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StatsEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`GROUP BY system_name`).
		WillReturnRows(pgxmock.NewRows([]string{"system_name", "count"}))
	var null *float64
	mock.ExpectQuery(`SELECT min\(ST_X\(geom\)\)`).
		WillReturnRows(pgxmock.NewRows([]string{"w", "e", "s", "n"}).AddRow(null, null, null, null))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.Empty(t, st.BySystem)
	assert.Nil(t, st.Bounds)
}

func TestPostgresStore_ByDatasetID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM geocat.records WHERE dataset_id = \$1 AND system_name = \$2 ORDER BY id LIMIT \$3`).
		WithArgs("nmdc:bsm-1", "NMDC", 10).
		WillReturnRows(recordRowsMock(t))

	hits, err := s.ByDatasetID(context.Background(), "nmdc:bsm-1", Filter{System: model.SystemNMDC, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "nmdc:bsm-1", hits[0].DatasetID)
	assert.Equal(t, model.SystemNMDC, hits[0].SystemName)
	assert.InDelta(t, -122.26, hits[0].Coordinates.Longitude, 1e-9)
	assert.Equal(t, []string{"name", "depth"}, hits[0].Metadata.Keys())
	assert.Nil(t, hits[0].DistanceMeters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ByDatasetID_NoLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`WHERE dataset_id = \$1 ORDER BY id$`).
		WithArgs("x").
		WillReturnRows(pgxmock.NewRows([]string{"dataset_id", "system_name", "st_asewkb", "metadata"}))

	hits, err := s.ByDatasetID(context.Background(), "x", Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BySystem(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`WHERE system_name = \$1 ORDER BY id LIMIT \$2`).
		WithArgs("NMDC", 1000).
		WillReturnRows(recordRowsMock(t))

	hits, err := s.BySystem(context.Background(), model.SystemNMDC, 1000)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InBox_Antimeridian(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`WHERE \(geom && ST_MakeEnvelope\(\$1, \$2, \$3, \$4, 4326\) OR geom && ST_MakeEnvelope\(\$5, \$6, \$7, \$8, 4326\)\)`).
		WithArgs(170.0, -10.0, 180.0, 10.0, -180.0, -10.0, -170.0, 10.0).
		WillReturnRows(recordRowsMock(t))

	_, err := s.InBox(context.Background(), geo.BBox{West: 170, South: -10, East: -170, North: 10}, Filter{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InBox_System(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`WHERE geom && ST_MakeEnvelope\(\$1, \$2, \$3, \$4, 4326\) AND system_name = \$5 ORDER BY id LIMIT \$6`).
		WithArgs(-125.0, 30.0, -100.0, 45.0, "NMDC", 5).
		WillReturnRows(recordRowsMock(t))

	_, err := s.InBox(context.Background(), geo.BBox{West: -125, South: 30, East: -100, North: 45},
		Filter{System: model.SystemNMDC, Limit: 5})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Nearby(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`ST_Distance\(geom::geography, .*\) AS distance_m FROM geocat.records WHERE ST_DWithin\(geom::geography, .*, \$3\) ORDER BY distance_m, id LIMIT \$4`).
		WithArgs(-122.0, 37.0, 5000.0, 2).
		WillReturnRows(pgxmock.NewRows([]string{"dataset_id", "system_name", "st_asewkb", "metadata", "distance_m"}).
			AddRow("a", "EMSL", pointEWKB(t, -122.0, 37.0), []byte(`{}`), 0.0).
			AddRow("b", "EMSL", pointEWKB(t, -122.01, 37.0), []byte(`{}`), 887.4))

	hits, err := s.Nearby(context.Background(), model.Point{Longitude: -122, Latitude: 37}, 5000, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.NotNil(t, hits[1].DistanceMeters)
	assert.InDelta(t, 887.4, *hits[1].DistanceMeters, 1e-9)
	// Each hit carries its own distance.
	assert.InDelta(t, 0, *hits[0].DistanceMeters, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_All_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT dataset_id`).WillReturnError(errors.New("connection reset"))

	_, err := s.All(context.Background(), Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: all")
}

func TestPostgresStore_BadGeometry(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT dataset_id`).
		WillReturnRows(pgxmock.NewRows([]string{"dataset_id", "system_name", "st_asewkb", "metadata"}).
			AddRow("a", "EMSL", []byte{0x01, 0x02}, []byte(`{}`)))

	_, err := s.All(context.Background(), Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode geometry")
}

func TestPostgresStore_RunLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	run := &model.IngestRun{DataDir: "data", Cleared: true, StartedAt: started}
	mock.ExpectExec(`INSERT INTO geocat.ingest_runs`).
		WithArgs(pgxmock.AnyArg(), "running", "data", true, started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.StartRun(ctx, run))
	assert.NotEmpty(t, run.ID)

	done := started.Add(time.Minute)
	run.Status = model.RunStatusComplete
	run.CompletedAt = &done
	run.Sources = []model.SourceReport{{System: model.SystemNMDC, Status: model.SourceIngested, Read: 3}}
	mock.ExpectExec(`UPDATE geocat.ingest_runs SET status = \$1`).
		WithArgs("complete", &done, pgxmock.AnyArg(), "", run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.FinishRun(ctx, run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE geocat.ingest_runs`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), &model.IngestRun{ID: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var completed *time.Time
	mock.ExpectQuery(`FROM geocat.ingest_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "data_dir", "cleared", "started_at", "completed_at", "sources", "error"}).
			AddRow("r1", "running", "data", false, started, completed, []byte(`[{"system_name":"EMSL","status":"missing"}]`), ""))

	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].CompletedAt)
	require.Len(t, runs[0].Sources, 1)
	assert.Equal(t, model.SourceMissing, runs[0].Sources[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
