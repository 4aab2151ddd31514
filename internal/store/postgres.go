package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/geo-catalog/internal/db"
	"github.com/sells-group/geo-catalog/internal/geo"
	"github.com/sells-group/geo-catalog/internal/model"
)

const recordsTable = "geocat.records"

var recordColumns = []string{"dataset_id", "system_name", "geom", "metadata"}

var recordsUpsert = db.UpsertConfig{
	Table:        recordsTable,
	Columns:      recordColumns,
	ConflictKeys: []string{"system_name", "dataset_id"},
}

const pgSelect = `SELECT dataset_id, system_name, ST_AsEWKB(geom), metadata FROM geocat.records`

// PostgresStore implements Store on PostGIS using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies pending schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.pool)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Clear deletes every record. It returns once the delete has committed.
func (s *PostgresStore) Clear(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM geocat.records`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear records")
	}
	return tag.RowsAffected(), nil
}

// InsertRecords bulk-loads records with COPY. The records must not collide
// with stored keys; use UpsertRecords otherwise.
func (s *PostgresStore) InsertRecords(ctx context.Context, records []model.Record) (int64, error) {
	rows, err := recordRows(records)
	if err != nil {
		return 0, err
	}
	n, err := db.CopyFrom(ctx, s.pool, recordsTable, recordColumns, rows)
	return n, eris.Wrap(err, "postgres: insert records")
}

// UpsertRecords writes records in one transaction, replacing any stored
// record with the same (system_name, dataset_id).
func (s *PostgresStore) UpsertRecords(ctx context.Context, records []model.Record) (int64, error) {
	rows, err := recordRows(records)
	if err != nil {
		return 0, err
	}
	n, err := db.BulkUpsert(ctx, s.pool, recordsUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert records")
}

func recordRows(records []model.Record) ([][]any, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		g, err := ewkb.Marshal(r.Coordinates.Geom(), ewkb.NDR)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: encode point for %s", r.Key())
		}
		meta, err := json.Marshal(r.Metadata.OrEmpty())
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: encode metadata for %s", r.Key())
		}
		rows[i] = []any{r.DatasetID, string(r.SystemName), g, meta}
	}
	return rows, nil
}

// EnsureSpatialIndex creates the GiST indexes used by box and radius
// queries. Safe to call repeatedly.
func (s *PostgresStore) EnsureSpatialIndex(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_records_geom ON geocat.records USING GIST (geom)`,
		`CREATE INDEX IF NOT EXISTS idx_records_geog ON geocat.records USING GIST ((geom::geography))`,
	} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "postgres: ensure spatial index")
		}
	}
	return nil
}

// Stats counts records per system and computes the coordinate extent.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT system_name, count(*) FROM geocat.records GROUP BY system_name ORDER BY system_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by system")
	}
	defer rows.Close()

	st := &Stats{BySystem: make(map[model.SystemName]int64)}
	for rows.Next() {
		var sys string
		var n int64
		if err := rows.Scan(&sys, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		st.BySystem[model.SystemName(sys)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: count by system")
	}

	var west, east, south, north *float64
	err = s.pool.QueryRow(ctx,
		`SELECT min(ST_X(geom)), max(ST_X(geom)), min(ST_Y(geom)), max(ST_Y(geom)) FROM geocat.records`,
	).Scan(&west, &east, &south, &north)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: bounds")
	}
	if west != nil && east != nil && south != nil && north != nil {
		st.Bounds = &geo.BBox{West: *west, South: *south, East: *east, North: *north}
	}
	return st, nil
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// pgLimit renders a LIMIT clause; NULL means no limit.
func pgLimit(w *where, limit int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + w.next(limit)
}

// ByDatasetID returns every record carrying the id, across systems unless
// narrowed.
func (s *PostgresStore) ByDatasetID(ctx context.Context, datasetID string, f Filter) ([]model.Hit, error) {
	w := &where{placeholder: pgPlaceholder}
	w.add("dataset_id = ?", datasetID)
	if f.System != "" {
		w.add("system_name = ?", string(f.System))
	}
	q := pgSelect + w.String() + " ORDER BY id" + pgLimit(w, f.Limit)
	return s.queryHits(ctx, "by dataset id", q, w.args)
}

// BySystem returns the records of one system in insertion order.
func (s *PostgresStore) BySystem(ctx context.Context, system model.SystemName, limit int) ([]model.Hit, error) {
	w := &where{placeholder: pgPlaceholder}
	w.add("system_name = ?", string(system))
	q := pgSelect + w.String() + " ORDER BY id" + pgLimit(w, limit)
	return s.queryHits(ctx, "by system", q, w.args)
}

// InBox returns records inside box, splitting boxes that cross the
// antimeridian into two envelopes.
func (s *PostgresStore) InBox(ctx context.Context, box geo.BBox, f Filter) ([]model.Hit, error) {
	w := &where{placeholder: pgPlaceholder}
	w.conds = append(w.conds, boxCondition(box, func(b geo.BBox) string {
		return fmt.Sprintf("geom && ST_MakeEnvelope(%s, %s, %s, %s, 4326)",
			w.next(b.West), w.next(b.South), w.next(b.East), w.next(b.North))
	}))
	if f.System != "" {
		w.add("system_name = ?", string(f.System))
	}
	q := pgSelect + w.String() + " ORDER BY id" + pgLimit(w, f.Limit)
	return s.queryHits(ctx, "in box", q, w.args)
}

// Nearby returns records within meters of center by geodesic distance,
// nearest first, with the distance attached.
func (s *PostgresStore) Nearby(ctx context.Context, center model.Point, meters float64, f Filter) ([]model.Hit, error) {
	w := &where{placeholder: pgPlaceholder}
	pt := fmt.Sprintf("ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography", w.next(center.Longitude), w.next(center.Latitude))
	w.add(fmt.Sprintf("ST_DWithin(geom::geography, %s, ?)", pt), meters)
	if f.System != "" {
		w.add("system_name = ?", string(f.System))
	}
	q := fmt.Sprintf(
		`SELECT dataset_id, system_name, ST_AsEWKB(geom), metadata, ST_Distance(geom::geography, %s) AS distance_m FROM geocat.records`,
		pt,
	) + w.String() + " ORDER BY distance_m, id" + pgLimit(w, f.Limit)

	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: nearby")
	}
	defer rows.Close()

	var hits []model.Hit
	for rows.Next() {
		var d float64
		h, err := scanPGHit(rows, &d)
		if err != nil {
			return nil, err
		}
		h.DistanceMeters = &d
		hits = append(hits, h)
	}
	return hits, eris.Wrap(rows.Err(), "postgres: nearby")
}

// All returns records in insertion order.
func (s *PostgresStore) All(ctx context.Context, f Filter) ([]model.Hit, error) {
	w := &where{placeholder: pgPlaceholder}
	if f.System != "" {
		w.add("system_name = ?", string(f.System))
	}
	q := pgSelect + w.String() + " ORDER BY id" + pgLimit(w, f.Limit)
	return s.queryHits(ctx, "all", q, w.args)
}

func (s *PostgresStore) queryHits(ctx context.Context, op, q string, args []any) ([]model.Hit, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var hits []model.Hit
	for rows.Next() {
		h, err := scanPGHit(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, eris.Wrapf(rows.Err(), "postgres: %s", op)
}

func scanPGHit(row pgx.Row, extra ...any) (model.Hit, error) {
	var (
		h         model.Hit
		sys       string
		geomBytes []byte
		meta      []byte
	)
	dest := append([]any{&h.DatasetID, &sys, &geomBytes, &meta}, extra...)
	if err := row.Scan(dest...); err != nil {
		return h, eris.Wrap(err, "postgres: scan record")
	}
	h.SystemName = model.SystemName(sys)

	g, err := ewkb.Unmarshal(geomBytes)
	if err != nil {
		return h, eris.Wrapf(err, "postgres: decode geometry for %s", h.Key())
	}
	if h.Coordinates, err = model.PointFromGeom(g); err != nil {
		return h, err
	}
	if err := json.Unmarshal(meta, &h.Metadata); err != nil {
		return h, eris.Wrapf(err, "postgres: decode metadata for %s", h.Key())
	}
	return h, nil
}

// StartRun records the beginning of an ingest run, assigning an id if the
// run has none.
func (s *PostgresStore) StartRun(ctx context.Context, run *model.IngestRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = model.RunStatusRunning
	_, err := s.pool.Exec(ctx,
		`INSERT INTO geocat.ingest_runs (id, status, data_dir, cleared, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Status), run.DataDir, run.Cleared, run.StartedAt,
	)
	return eris.Wrapf(err, "postgres: start run %s", run.ID)
}

// FinishRun stores the final status, source reports and error of a run.
func (s *PostgresStore) FinishRun(ctx context.Context, run *model.IngestRun) error {
	sources, err := json.Marshal(run.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run sources")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE geocat.ingest_runs SET status = $1, completed_at = $2, sources = $3, error = $4 WHERE id = $5`,
		string(run.Status), run.CompletedAt, sources, run.Error, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns 100.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, data_dir, cleared, started_at, completed_at, sources, error
		 FROM geocat.ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var (
			r       model.IngestRun
			status  string
			sources []byte
		)
		if err := rows.Scan(&r.ID, &status, &r.DataDir, &r.Cleared, &r.StartedAt, &r.CompletedAt, &sources, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal sources for run %s", r.ID)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs")
}
